// Package app wires the control plane's services for the server and the CLI.
package app

import (
	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/archive"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/inventory"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/relations"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/snapshot"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/vault"
)

type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    logging.Logger
	Clock     clock.Clock
	Provider  *provider.Client
	Tracker   *jobs.Tracker
	Locker    *lock.AccountLocker
	Accounts  *accounts.Service
	Inventory *inventory.Engine
	Relations *relations.Resolver
	Snapshots *snapshot.Service
	// Archive is nil unless an archive bucket is configured.
	Archive *archive.Archiver

	nats *jobs.NATSPublisher
}

// Option adjusts wiring, mostly for tests.
type Option func(*App)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.Clock = c }
}

// New builds every service on top of an open, migrated store. Optional
// integrations (NATS, archive) that fail to start are logged and skipped.
func New(cfg *config.Config, gdb *gorm.DB, logger logging.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, DB: gdb, Logger: logger, Clock: clock.Real{}}
	for _, o := range opts {
		o(a)
	}

	v, err := vault.New(cfg.AppKey)
	if err != nil {
		return nil, err
	}

	var pub jobs.Publisher
	if cfg.NatsURL != "" {
		np, err := jobs.NewNATSPublisher(cfg.NatsURL, logger)
		if err != nil {
			logger.Warn("nats unavailable, events not published", "url", cfg.NatsURL, "error", err)
		} else {
			a.nats, pub = np, np
		}
	}
	if cfg.Archive.Enabled() {
		ar, err := archive.New(cfg.Archive, logger)
		if err != nil {
			logger.Warn("report archive disabled", "error", err)
		} else {
			a.Archive = ar
		}
	}

	a.Provider = provider.New(provider.Options{
		BaseURL:       cfg.Provider.BaseURL,
		DisableDelete: cfg.Provider.DisableDelete,
		RatePerSec:    cfg.Provider.RatePerSec,
		Logger:        logger,
	})
	a.Tracker = jobs.New(gdb, a.Clock, logger, pub)
	a.Locker = lock.NewAccountLocker(gdb)
	a.Accounts = accounts.New(gdb, v, a.Provider, a.Tracker, a.Locker, a.Clock, logger)
	a.Inventory = inventory.NewEngine(inventory.Options{
		DB: gdb, API: a.Provider, Accounts: a.Accounts, Locker: a.Locker,
		Tracker: a.Tracker, Clock: a.Clock, Logger: logger, Workers: cfg.Sync.Workers,
	})
	a.Relations = relations.New(gdb)
	a.Snapshots = snapshot.New(snapshot.Options{
		DB: gdb, API: a.Provider, Accounts: a.Accounts, Inventory: a.Inventory,
		Locker: a.Locker, Tracker: a.Tracker, Clock: a.Clock, Logger: logger,
	})
	return a, nil
}

// Close releases background connections.
func (a *App) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
