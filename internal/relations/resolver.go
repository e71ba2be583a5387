// Package relations works out which mirrored resources a server is linked to.
// It only reads rows the sync engine has already written.
package relations

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// Tracked lists the asset types a server can be related to, in report order.
var Tracked = []models.AssetType{
	models.AssetFirewalls,
	models.AssetPrimaryIPs,
	models.AssetFloatingIPs,
	models.AssetVolumes,
	models.AssetNetworks,
	models.AssetPlacementGroups,
	models.AssetLoadBalancers,
}

// Row is one related asset.
type Row struct {
	AssetType  models.AssetType `json:"assetType"`
	ExternalID string           `json:"externalId"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Datacenter string           `json:"datacenter"`
}

type Result struct {
	Counts map[models.AssetType]int `json:"counts"`
	Rows   []Row                    `json:"rows"`
}

type Resolver struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve loads the server's account assets of the tracked types and matches
// them against the server.
func (r *Resolver) Resolve(ctx context.Context, server *models.Server) (*Result, error) {
	if server.ExternalID == "" || server.ProviderAccountID == 0 {
		return &Result{Counts: map[models.AssetType]int{}, Rows: []Row{}}, nil
	}
	var assets []models.ResourceAsset
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND project_id = ? AND provider_account_id = ? AND asset_type IN ?",
			server.CompanyID, server.ProjectID, server.ProviderAccountID, Tracked).
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("load related assets: %w", err)
	}
	return Match(server.ExternalID, provider.Decode(server.RawAttributes), assets), nil
}

// Match classifies assets as related when the server references their id, or
// when the asset's own payload names the server.
func Match(serverID string, raw provider.Item, assets []models.ResourceAsset) *Result {
	ids := ReferencedIDs(raw)
	res := &Result{Counts: make(map[models.AssetType]int, len(Tracked)), Rows: []Row{}}
	for _, t := range Tracked {
		res.Counts[t] = 0
	}
	for _, a := range assets {
		if _, tracked := res.Counts[a.AssetType]; !tracked || a.ExternalID == "" {
			continue
		}
		if !ids[a.AssetType].Has(a.ExternalID) && !namesServer(a.AssetType, provider.Decode(a.RawAttributes), serverID) {
			continue
		}
		res.Counts[a.AssetType]++
		res.Rows = append(res.Rows, Row{
			AssetType:  a.AssetType,
			ExternalID: a.ExternalID,
			Name:       orDefault(a.Name, "item-"+a.ExternalID),
			Status:     orDefault(a.Status, "-"),
			Datacenter: orDefault(a.Datacenter, "-"),
		})
	}
	sort.SliceStable(res.Rows, func(i, j int) bool {
		if res.Rows[i].AssetType != res.Rows[j].AssetType {
			return res.Rows[i].AssetType < res.Rows[j].AssetType
		}
		return res.Rows[i].Name < res.Rows[j].Name
	})
	return res
}

// namesServer checks the inverse side of a relation.
func namesServer(t models.AssetType, attrs provider.Item, serverID string) bool {
	switch t {
	case models.AssetPrimaryIPs:
		return provider.String(attrs["assignee_id"]) == serverID
	case models.AssetFloatingIPs:
		return provider.String(attrs["server"]) == serverID
	case models.AssetLoadBalancers:
		for _, target := range provider.List(attrs["targets"]) {
			if provider.String(provider.Dig(target, "server", "id")) == serverID {
				return true
			}
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
