package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// ListAssets returns the account's mirrored assets ordered by type and name,
// optionally limited to one type.
func (e *Engine) ListAssets(ctx context.Context, accountID uint, t models.AssetType) ([]models.ResourceAsset, error) {
	q := e.db.WithContext(ctx).Where("provider_account_id = ?", accountID)
	if t != "" {
		if !provider.Known(t) {
			return nil, apperr.Configuration("list assets", "unknown asset type %q", t)
		}
		q = q.Where("asset_type = ?", t)
	}
	var out []models.ResourceAsset
	if err := q.Order("asset_type, name, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

// SummarizeAssets counts the account's assets per type.
func (e *Engine) SummarizeAssets(ctx context.Context, accountID uint) (map[models.AssetType]int64, error) {
	var rows []struct {
		AssetType models.AssetType
		N         int64
	}
	err := e.db.WithContext(ctx).Model(&models.ResourceAsset{}).
		Select("asset_type, COUNT(*) AS n").
		Where("provider_account_id = ?", accountID).
		Group("asset_type").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarize assets: %w", err)
	}
	out := make(map[models.AssetType]int64, len(rows))
	for _, r := range rows {
		out[r.AssetType] = r.N
	}
	return out, nil
}

// GetServer loads a server row by local id.
func (e *Engine) GetServer(ctx context.Context, id uint) (*models.Server, error) {
	var s models.Server
	err := e.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("server", fmt.Sprintf("server %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load server %d: %w", id, err)
	}
	return &s, nil
}

// ServerView is a server with metrics parsed from its raw payload.
type ServerView struct {
	models.Server
	Metrics ServerMetrics `json:"metrics"`
}

// ListServers returns servers of a tenant (zero ids mean "any") by name.
func (e *Engine) ListServers(ctx context.Context, scope models.Scope) ([]ServerView, error) {
	q := e.db.WithContext(ctx).Model(&models.Server{})
	if scope.CompanyID > 0 {
		q = q.Where("company_id = ?", scope.CompanyID)
	}
	if scope.ProjectID > 0 {
		q = q.Where("project_id = ?", scope.ProjectID)
	}
	var rows []models.Server
	if err := q.Order("name, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	out := make([]ServerView, 0, len(rows))
	for _, s := range rows {
		out = append(out, ServerView{Server: s, Metrics: ParseServerMetrics(provider.Decode(s.RawAttributes))})
	}
	return out, nil
}

// ServerSnapshots lists the mirrored snapshot assets taken from server, newest
// first.
func (e *Engine) ServerSnapshots(ctx context.Context, server *models.Server) ([]models.ResourceAsset, error) {
	var rows []models.ResourceAsset
	err := e.db.WithContext(ctx).
		Where("provider_account_id = ? AND asset_type = ?", server.ProviderAccountID, models.AssetSnapshots).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	type entry struct {
		row     models.ResourceAsset
		created string
	}
	var matched []entry
	for _, r := range rows {
		attrs := provider.Decode(r.RawAttributes)
		if provider.String(provider.Dig(attrs, "created_from", "id")) == server.ExternalID ||
			provider.String(attrs["bound_to"]) == server.ExternalID {
			matched = append(matched, entry{row: r, created: provider.String(attrs["created"])})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].created != matched[j].created {
			return matched[i].created > matched[j].created
		}
		return matched[i].row.ID > matched[j].row.ID
	})
	out := make([]models.ResourceAsset, len(matched))
	for i, m := range matched {
		out[i] = m.row
	}
	return out, nil
}
