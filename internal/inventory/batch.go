package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

type BatchItem struct {
	AccountID uint                     `json:"account_id"`
	CompanyID uint                     `json:"company_id"`
	ProjectID uint                     `json:"project_id"`
	Label     string                   `json:"label"`
	OK        bool                     `json:"ok"`
	Message   string                   `json:"message"`
	Total     int                      `json:"total"`
	ByType    map[models.AssetType]int `json:"by_type"`
}

// BatchReport is the outcome of a sweep over many accounts.
type BatchReport struct {
	SweepID string      `json:"sweep_id"`
	Total   int         `json:"total"`
	OK      int         `json:"ok"`
	Failed  int         `json:"failed"`
	Items   []BatchItem `json:"items"`
}

// SyncAll syncs every account matching f on a bounded worker pool. A failing
// or panicking account is reported and never stops the others. Items keep the
// account listing order.
func (e *Engine) SyncAll(ctx context.Context, f accounts.Filter) (*BatchReport, error) {
	list, err := e.accounts.List(ctx, f)
	if err != nil {
		return nil, err
	}
	report := &BatchReport{SweepID: uuid.NewString(), Total: len(list), Items: make([]BatchItem, len(list))}
	ctx = jobs.WithSweep(ctx, report.SweepID)
	e.logger.Info("inventory sweep started", "sweepId", report.SweepID, "accounts", len(list), "workers", e.workers)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range list {
		acct := list[i]
		g.Go(func() error {
			report.Items[i] = e.syncItem(ctx, acct)
			return nil
		})
	}
	_ = g.Wait()

	for _, it := range report.Items {
		if it.OK {
			report.OK++
		} else {
			report.Failed++
		}
	}
	e.logger.Info("inventory sweep finished", "sweepId", report.SweepID, "ok", report.OK, "failed", report.Failed)
	return report, nil
}

func (e *Engine) syncItem(ctx context.Context, acct models.ProviderAccount) (item BatchItem) {
	item = BatchItem{
		AccountID: acct.ID, CompanyID: acct.CompanyID, ProjectID: acct.ProjectID,
		Label: acct.Label, ByType: map[models.AssetType]int{},
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("account sync panicked", "accountId", acct.ID, "panic", r)
			item.OK = false
			item.Message = fmt.Sprintf("sync panicked: %v", r)
		}
	}()
	res, err := e.SyncAccount(ctx, acct.ID)
	if err != nil {
		item.Message = err.Error()
		return item
	}
	item.OK, item.Message, item.Total, item.ByType = res.OK, res.Message, res.Total, res.ByType
	return item
}
