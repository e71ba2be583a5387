// Package clock abstracts wall time so scheduling and retention decisions can
// be exercised deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock. All times are UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Stub is a manually driven clock for tests.
type Stub struct {
	mu  sync.Mutex
	now time.Time
}

// NewStub returns a Stub frozen at t.
func NewStub(t time.Time) *Stub { return &Stub{now: t.UTC()} }

func (s *Stub) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward by d.
func (s *Stub) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Set moves the clock to t.
func (s *Stub) Set(t time.Time) {
	s.mu.Lock()
	s.now = t.UTC()
	s.mu.Unlock()
}
