package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/app"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/db"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/snapshot"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/version"
)

// exitLocked is returned when another sweep holds the global lock.
const exitLocked = 2

// defaultDueLimit is used when the scheduler limit is absent or not a number.
const defaultDueLimit = 20

type cli struct {
	out    io.Writer
	errOut io.Writer
	code   int

	company uint
	project uint
	limit   int
}

func execute(args []string, out, errOut io.Writer) int {
	c := &cli{out: out, errOut: errOut}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil && c.code == 0 {
		c.code = 1
	}
	return c.code
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nocctl",
		Short:         "Operate the inventory and snapshot control plane",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	refresh := &cobra.Command{
		Use:   "refresh-inventory",
		Short: "Sync every provider account, optionally narrowed to a company or project",
		Args:  cobra.NoArgs,
		RunE:  c.refreshInventory,
	}
	refresh.Flags().UintVar(&c.company, "company", 0, "only accounts of this company")
	refresh.Flags().UintVar(&c.project, "project", 0, "only accounts of this project")
	refresh.Flags().IntVar(&c.limit, "limit", 100, "maximum accounts to sync (1..1000)")

	scheduler := &cobra.Command{
		Use:   "snapshot-scheduler [limit]",
		Short: "Run snapshot policies that are due (limit 1..500, default 20; non-numeric means default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.snapshotScheduler,
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE:  c.migrate,
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.out, "%s %s\n", version.Name, version.Version)
		},
	}

	root.AddCommand(refresh, scheduler, migrate, ver)
	return root
}

func (c *cli) open() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Env)
	gdb, err := db.Init(cfg, logger)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, gdb, logger)
}

func (c *cli) refreshInventory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := c.open()
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := lock.TryGlobal(ctx, a.DB, lock.RefreshLockName, a.Config.Sync.LockDir)
	if errors.Is(err, lock.ErrLocked) {
		c.code = exitLocked
		return c.print(map[string]any{"ok": false, "message": "another inventory refresh is running"})
	}
	if err != nil {
		return err
	}
	defer release()

	report, err := a.Inventory.SyncAll(ctx, accounts.Filter{
		CompanyID: c.company,
		ProjectID: c.project,
		Limit:     clamp(c.limit, 1, 1000),
	})
	if err != nil {
		return err
	}
	c.archive(ctx, a, "refresh-inventory", report.SweepID, report)
	return c.print(report)
}

func (c *cli) snapshotScheduler(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit := defaultDueLimit
	if len(args) == 1 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			limit = n
		}
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := lock.TryGlobal(ctx, a.DB, lock.SchedulerLockName, a.Config.Sync.LockDir)
	if errors.Is(err, lock.ErrLocked) {
		c.code = exitLocked
		return c.print(map[string]any{"ok": false, "message": "another snapshot scheduler is running"})
	}
	if err != nil {
		return err
	}
	defer release()

	report, err := a.Snapshots.RunDue(ctx, clamp(limit, 1, snapshot.MaxDueLimit))
	if err != nil {
		return err
	}
	c.archive(ctx, a, "snapshot-scheduler", uuid.NewString(), report)
	return c.print(report)
}

func (c *cli) migrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env)
	gdb, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}
	return c.print(map[string]any{"ok": true, "message": "schema up to date"})
}

// archive uploads a sweep report when an archive bucket is configured.
// Upload failures are logged and never change the exit code.
func (c *cli) archive(ctx context.Context, a *app.App, kind, id string, report any) {
	if a.Archive == nil {
		return
	}
	if err := a.Archive.EnsureBucket(ctx); err != nil {
		a.Logger.Warn("report archive unavailable", "kind", kind, "error", err)
		return
	}
	if _, err := a.Archive.PutReport(ctx, kind, id, a.Clock.Now(), report); err != nil {
		a.Logger.Warn("report archive failed", "kind", kind, "id", id, "error", err)
	}
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
