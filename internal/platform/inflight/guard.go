// Package inflight provides a process-local guard against duplicate
// submissions of the same mutation. A held key means an identical operation
// is still running; callers reject the second attempt instead of queueing it.
package inflight

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrOperationInProgress signals that an identical operation is already running.
var ErrOperationInProgress = errors.New("inflight: operation already in progress")

const defaultTTL = 30 * time.Second

// Key identifies one logical operation. Every component is required so two
// different callers or targets never collide on a shared key.
type Key struct {
	Operation string
	TenantID  string
	TargetID  string
	SessionID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Operation, k.TenantID, k.TargetID, k.SessionID)
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Operation) == "" {
		return errors.New("inflight: operation is required")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return errors.New("inflight: tenant id is required")
	}
	if strings.TrimSpace(k.TargetID) == "" {
		return errors.New("inflight: target id is required")
	}
	if strings.TrimSpace(k.SessionID) == "" {
		return errors.New("inflight: session id is required")
	}
	return nil
}

// Guard tracks in-flight operation keys with a TTL safety net. Holds left
// behind by a crashed request expire instead of blocking the key forever.
type Guard struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	holds map[string]time.Time
}

// Option customises Guard construction.
type Option func(*Guard)

// WithTTL overrides the hold expiry.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard constructs a Guard with the default TTL.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		ttl:   defaultTTL,
		now:   time.Now,
		holds: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Acquire claims the key for the caller. It returns ErrOperationInProgress
// when a live hold exists; expired holds are reclaimed transparently.
func (g *Guard) Acquire(key Key) error {
	if err := key.validate(); err != nil {
		return err
	}

	id := key.String()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, held := g.holds[id]; held && now.Before(expiry) {
		return ErrOperationInProgress
	}
	g.holds[id] = now.Add(g.ttl)
	return nil
}

// Release frees the key once the operation settles, success or failure.
// Releasing an unheld key is a no-op.
func (g *Guard) Release(key Key) {
	id := key.String()

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holds, id)
}

// Len reports the number of live holds, sweeping expired entries first.
func (g *Guard) Len() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, expiry := range g.holds {
		if !now.Before(expiry) {
			delete(g.holds, id)
		}
	}
	return len(g.holds)
}
