package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// AccountLocker serializes everything that reconciles one provider account.
// Inside a process a keyed mutex is used; on postgres a session advisory lock
// extends the exclusion to other processes. Sections are re-entrant for the
// same account within one context chain.
type AccountLocker struct {
	mu    sync.Mutex
	slots map[uint]*slot
	db    *gorm.DB
}

type slot struct {
	ch   chan struct{}
	refs int
}

type heldKey struct{}

// NewAccountLocker returns a locker; gdb may be nil for in-process only.
func NewAccountLocker(gdb *gorm.DB) *AccountLocker {
	l := &AccountLocker{slots: map[uint]*slot{}}
	if gdb != nil && gdb.Dialector != nil && gdb.Dialector.Name() == "postgres" {
		l.db = gdb
	}
	return l
}

// Held reports whether ctx already runs inside id's section.
func Held(ctx context.Context, id uint) bool {
	held, _ := ctx.Value(heldKey{}).([]uint)
	for _, h := range held {
		if h == id {
			return true
		}
	}
	return false
}

func withHeld(ctx context.Context, id uint) context.Context {
	held, _ := ctx.Value(heldKey{}).([]uint)
	next := make([]uint, len(held), len(held)+1)
	copy(next, held)
	return context.WithValue(ctx, heldKey{}, append(next, id))
}

// WithAccount runs fn while holding id's section.
func (l *AccountLocker) WithAccount(ctx context.Context, id uint, fn func(context.Context) error) error {
	if Held(ctx, id) {
		return fn(ctx)
	}
	release, err := l.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	if l.db != nil {
		unlock, err := l.advisory(ctx, id)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return fn(withHeld(ctx, id))
}

func (l *AccountLocker) acquire(ctx context.Context, id uint) (Release, error) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	l.mu.Unlock()

	done := func() {
		l.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(l.slots, id)
		}
		l.mu.Unlock()
	}
	select {
	case s.ch <- struct{}{}:
		return func() { <-s.ch; done() }, nil
	case <-ctx.Done():
		done()
		return nil, fmt.Errorf("lock account %d: %w", id, ctx.Err())
	}
}

func (l *AccountLocker) advisory(ctx context.Context, id uint) (Release, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock account %d: %w", id, err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1, $2)", accountNamespace, int32(id)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lock account %d: %w", id, err)
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(uctx, "SELECT pg_advisory_unlock($1, $2)", accountNamespace, int32(id))
		conn.Close()
	}, nil
}
