// Package snapshot runs the snapshot lifecycle of mirrored servers: per-server
// policies, on-demand and scheduled snapshot creation, and retention pruning
// against the provider's live image list.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/inventory"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// API is what the runner needs from the provider client.
type API interface {
	Execute(ctx context.Context, token string, op provider.Operation, params map[string]string, query url.Values, body any) (*provider.Response, error)
	FetchAll(ctx context.Context, token string, d provider.Descriptor) ([]provider.Item, error)
}

// Syncer refreshes an account's mirror after the provider state changed.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID uint) (*inventory.Result, error)
}

type Options struct {
	DB        *gorm.DB
	API       API
	Accounts  *accounts.Service
	Inventory Syncer
	Locker    *lock.AccountLocker
	Tracker   *jobs.Tracker
	Clock     clock.Clock
	Logger    logging.Logger
}

type Service struct {
	db        *gorm.DB
	api       API
	accounts  *accounts.Service
	inventory Syncer
	locker    *lock.AccountLocker
	tracker   *jobs.Tracker
	clock     clock.Clock
	logger    logging.Logger
}

func New(o Options) *Service {
	return &Service{
		db: o.DB, api: o.API, accounts: o.Accounts, inventory: o.Inventory,
		locker: o.Locker, tracker: o.Tracker, clock: o.Clock, logger: o.Logger,
	}
}

// target is a server resolved together with its account.
type target struct {
	server  *models.Server
	account *models.ProviderAccount
}

func (s *Service) loadServer(ctx context.Context, serverID uint) (*models.Server, error) {
	var srv models.Server
	err := s.db.WithContext(ctx).First(&srv, serverID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("snapshot", fmt.Sprintf("server %d", serverID))
	}
	if err != nil {
		return nil, fmt.Errorf("load server %d: %w", serverID, err)
	}
	return &srv, nil
}

func (s *Service) resolve(ctx context.Context, serverID uint) (*target, error) {
	srv, err := s.loadServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.ProviderAccountID == 0 || srv.ExternalID == "" {
		return nil, apperr.Configuration("snapshot", "server %d has no linked provider account or external id", serverID)
	}
	acct, err := s.accounts.Get(ctx, srv.ProviderAccountID)
	if err != nil {
		return nil, err
	}
	return &target{server: srv, account: acct}, nil
}

// findPolicy returns the stored policy of serverID, or nil.
func (s *Service) findPolicy(ctx context.Context, serverID uint) (*models.SnapshotPolicy, error) {
	var p models.SnapshotPolicy
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy of server %d: %w", serverID, err)
	}
	return &p, nil
}

// execute performs a provider operation and leaves an audit entry for it.
func (s *Service) execute(ctx context.Context, scope models.Scope, actor, token string, op provider.Operation, params map[string]string, body any) (*provider.Response, error) {
	resp, err := s.api.Execute(ctx, token, op, params, nil, body)
	after := map[string]any{"method": op.Method, "path": op.PathTemplate, "params": params, "ok": err == nil}
	if resp != nil {
		after["http_status"] = resp.Status
	}
	if err != nil {
		after["error"] = err.Error()
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: scope, Actor: actor, Action: "provider.operation.executed",
		TargetType: "provider_operation", TargetID: op.Name, After: after,
	})
	return resp, err
}
