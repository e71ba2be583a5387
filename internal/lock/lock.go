// Package lock provides the two exclusion primitives of the control plane: a
// non-blocking global lock that keeps sweeps from overlapping, and a blocking
// per-account section around every sync or snapshot run.
package lock

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrLocked is returned when a global lock is held by someone else.
var ErrLocked = errors.New("lock: already held")

const (
	RefreshLockName   = "noc_inventory_refresh"
	SchedulerLockName = "noc_snapshot_scheduler"

	// accountNamespace is the first key of the two-key advisory lock used for
	// per-account sections on postgres.
	accountNamespace int32 = 0x4e4f4301
)

// Release undoes a successful acquisition.
type Release func()

// TryGlobal takes the named sweep lock without waiting. On postgres it is a
// session advisory lock; otherwise an flock on <dir>/<name>.lock.
func TryGlobal(ctx context.Context, gdb *gorm.DB, name, dir string) (Release, error) {
	if gdb != nil && gdb.Dialector != nil && gdb.Dialector.Name() == "postgres" {
		return tryAdvisory(ctx, gdb, name)
	}
	return tryFile(dir, name)
}

func tryAdvisory(ctx context.Context, gdb *gorm.DB, name string) (Release, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		conn.Close()
		return nil, ErrLocked
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", name)
		conn.Close()
	}, nil
}
