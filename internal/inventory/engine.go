// Package inventory mirrors a provider account's resources into the local
// store by full reconciliation: every pass fetches each collection in full,
// upserts what it saw and prunes what it did not.
package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/metrics"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// Fetcher pages through a whole remote collection.
type Fetcher interface {
	FetchAll(ctx context.Context, token string, d provider.Descriptor) ([]provider.Item, error)
}

type Options struct {
	DB       *gorm.DB
	API      Fetcher
	Accounts *accounts.Service
	Locker   *lock.AccountLocker
	Tracker  *jobs.Tracker
	Clock    clock.Clock
	Logger   logging.Logger
	// Workers bounds concurrent account syncs in SyncAll.
	Workers int
}

type Engine struct {
	db       *gorm.DB
	api      Fetcher
	accounts *accounts.Service
	locker   *lock.AccountLocker
	tracker  *jobs.Tracker
	clock    clock.Clock
	logger   logging.Logger
	workers  int
}

func NewEngine(o Options) *Engine {
	if o.Workers < 1 {
		o.Workers = 1
	}
	return &Engine{
		db: o.DB, api: o.API, accounts: o.Accounts, locker: o.Locker,
		tracker: o.Tracker, clock: o.Clock, logger: o.Logger, workers: o.Workers,
	}
}

// ItemFailure is one remote object that could not be written.
type ItemFailure struct {
	AssetType  models.AssetType `json:"assetType"`
	ExternalID string           `json:"externalId"`
	Error      string           `json:"error"`
}

// Result summarizes one account sync. Counts are partial when OK is false.
type Result struct {
	AccountID uint                       `json:"accountId"`
	OK        bool                       `json:"ok"`
	Message   string                     `json:"message"`
	Total     int                        `json:"total"`
	ByType    map[models.AssetType]int   `json:"byType"`
	Pruned    map[models.AssetType]int64 `json:"pruned"`
	Servers   int                        `json:"servers"`
	Failed    []ItemFailure              `json:"failed,omitempty"`
}

// SyncAccount reconciles every catalog collection of one account inside the
// account's exclusive section. Only a missing account is returned as an
// error; provider, transport and crypto failures end up in the Result and in
// the job record.
func (e *Engine) SyncAccount(ctx context.Context, accountID uint) (*Result, error) {
	acct, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var res *Result
	err = e.locker.WithAccount(ctx, accountID, func(ctx context.Context) error {
		res = e.syncLocked(ctx, acct)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) syncLocked(ctx context.Context, acct *models.ProviderAccount) *Result {
	res := &Result{
		AccountID: acct.ID,
		ByType:    map[models.AssetType]int{},
		Pruned:    map[models.AssetType]int64{},
	}
	jobID := e.tracker.Start(ctx, acct.Scope, "provider.sync_inventory", map[string]any{"account_id": acct.ID})

	err := e.reconcile(ctx, acct, res)
	meta := map[string]any{"total": res.Total, "by_type": res.ByType, "pruned": res.Pruned, "servers": res.Servers, "failed_items": len(res.Failed)}
	if err != nil {
		res.Message = err.Error()
		if serr := e.accounts.SetStatus(ctx, acct.ID, models.AccountError, false); serr != nil {
			e.logger.Error("account status update failed", "accountId", acct.ID, "error", serr)
		}
		e.tracker.Finish(ctx, jobID, models.StatusError, res.Message, meta)
		metrics.SyncRuns.WithLabelValues("error").Inc()
		e.logger.Error("inventory sync failed", "accountId", acct.ID, "total", res.Total, "error", err)
		return res
	}

	res.OK = true
	res.Message = "inventory collected"
	if len(res.Failed) > 0 {
		res.Message = fmt.Sprintf("inventory collected, %d item(s) failed", len(res.Failed))
	}
	if serr := e.accounts.SetStatus(ctx, acct.ID, models.AccountActive, true); serr != nil {
		e.logger.Error("account status update failed", "accountId", acct.ID, "error", serr)
	}
	e.tracker.Finish(ctx, jobID, models.StatusSuccess, res.Message, meta)
	e.tracker.Audit(ctx, jobs.Event{
		Scope: acct.Scope, Action: "provider.inventory.synced",
		TargetType: "provider_account", TargetID: fmt.Sprint(acct.ID), After: meta,
	})
	metrics.SyncRuns.WithLabelValues("success").Inc()
	e.logger.Info("inventory synced", "accountId", acct.ID, "total", res.Total, "servers", res.Servers)
	return res
}

func (e *Engine) reconcile(ctx context.Context, acct *models.ProviderAccount, res *Result) error {
	token, err := e.accounts.Token(acct)
	if err != nil {
		return err
	}
	if err := e.db.WithContext(ctx).
		Where("provider_account_id = ? AND asset_type = ?", acct.ID, models.AssetLegacyImages).
		Delete(&models.ResourceAsset{}).Error; err != nil {
		return fmt.Errorf("drop legacy images: %w", err)
	}

	for _, d := range provider.Catalog() {
		items, err := e.api.FetchAll(ctx, token, d)
		if err != nil {
			return err
		}
		if d.Type == models.AssetServers {
			if err := e.reconcileServers(ctx, acct, items, res); err != nil {
				return err
			}
		}

		observed := make([]string, 0, len(items))
		for _, item := range items {
			id, err := e.UpsertAsset(ctx, acct, d.Type, item)
			if id == "" {
				continue
			}
			observed = append(observed, id)
			if err != nil {
				res.Failed = append(res.Failed, ItemFailure{AssetType: d.Type, ExternalID: id, Error: err.Error()})
				continue
			}
			res.ByType[d.Type]++
			res.Total++
		}
		metrics.AssetsUpserted.WithLabelValues(string(d.Type)).Add(float64(res.ByType[d.Type]))

		pruned, err := e.PruneAssets(ctx, acct.ID, d.Type, observed)
		if err != nil {
			return fmt.Errorf("prune %s: %w", d.Type, err)
		}
		res.Pruned[d.Type] = pruned
		metrics.AssetsPruned.WithLabelValues(string(d.Type)).Add(float64(pruned))
	}
	return nil
}

func (e *Engine) reconcileServers(ctx context.Context, acct *models.ProviderAccount, items []provider.Item, res *Result) error {
	observed := make([]string, 0, len(items))
	for _, item := range items {
		id, err := e.UpsertServer(ctx, acct, item)
		if id == "" {
			continue
		}
		observed = append(observed, id)
		if err != nil {
			res.Failed = append(res.Failed, ItemFailure{AssetType: models.AssetServers, ExternalID: id, Error: err.Error()})
			continue
		}
		res.Servers++
	}
	if _, err := e.PruneServers(ctx, acct.ID, observed); err != nil {
		return fmt.Errorf("prune servers: %w", err)
	}
	return nil
}

// UpsertAsset writes one remote object keyed by (account, type, external id)
// and returns that external id. An empty id means the object was skipped.
func (e *Engine) UpsertAsset(ctx context.Context, acct *models.ProviderAccount, t models.AssetType, item provider.Item) (string, error) {
	row, ok := assetRow(t, item)
	if !ok {
		return "", nil
	}
	now := e.clock.Now()
	row.Scope = acct.Scope
	row.ProviderAccountID = acct.ID
	row.LastSeenAt = now
	row.CreatedAt = now
	row.UpdatedAt = now
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_account_id"}, {Name: "asset_type"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company_id", "project_id", "name", "status", "datacenter", "ipv4", "raw_attributes", "last_seen_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return row.ExternalID, fmt.Errorf("upsert %s %s: %w", t, row.ExternalID, err)
	}
	return row.ExternalID, nil
}

// PruneAssets deletes the account's rows of type t whose external id is not
// in observed. An empty observed set deletes them all.
func (e *Engine) PruneAssets(ctx context.Context, accountID uint, t models.AssetType, observed []string) (int64, error) {
	q := e.db.WithContext(ctx).Where("provider_account_id = ? AND asset_type = ?", accountID, t)
	if len(observed) > 0 {
		q = q.Where("external_id NOT IN ?", observed)
	}
	res := q.Delete(&models.ResourceAsset{})
	return res.RowsAffected, res.Error
}

// UpsertServer writes one server row and returns its external id.
func (e *Engine) UpsertServer(ctx context.Context, acct *models.ProviderAccount, item provider.Item) (string, error) {
	row, ok := serverRow(item)
	if !ok {
		return "", nil
	}
	now := e.clock.Now()
	row.Scope = acct.Scope
	row.ProviderAccountID = acct.ID
	row.LastSeenAt = now
	row.CreatedAt = now
	row.UpdatedAt = now
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_account_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company_id", "project_id", "name", "status", "datacenter", "ipv4", "labels", "raw_attributes", "last_seen_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return row.ExternalID, fmt.Errorf("upsert server %s: %w", row.ExternalID, err)
	}
	return row.ExternalID, nil
}

// PruneServers removes servers no longer reported, together with their
// snapshot policies.
func (e *Engine) PruneServers(ctx context.Context, accountID uint, observed []string) (int64, error) {
	q := e.db.WithContext(ctx).Model(&models.Server{}).Where("provider_account_id = ?", accountID)
	if len(observed) > 0 {
		q = q.Where("external_id NOT IN ?", observed)
	}
	var ids []uint
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.db.WithContext(ctx).Where("server_id IN ?", ids).Delete(&models.SnapshotPolicy{}).Error; err != nil {
		return 0, err
	}
	res := e.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Server{})
	return res.RowsAffected, res.Error
}
