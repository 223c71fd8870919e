package api

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrRunInProgress = errors.New("a refresh is already running")
	ErrTooSoon       = errors.New("refresh requested too soon")
)

// RefreshGuard serializes ingest runs started over HTTP and enforces a
// minimum interval between their start times.
type RefreshGuard struct {
	mu          sync.Mutex
	minInterval time.Duration
	now         func() time.Time
	running     bool
	lastStart   time.Time
}

// NewRefreshGuard builds a guard. A nil clock means time.Now.
func NewRefreshGuard(minInterval time.Duration, now func() time.Time) *RefreshGuard {
	if now == nil {
		now = time.Now
	}
	return &RefreshGuard{minInterval: minInterval, now: now}
}

// Acquire claims the run slot. The returned release must be called when the
// run ends. The interval is measured from the previous successful Acquire.
func (g *RefreshGuard) Acquire() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil, ErrRunInProgress
	}
	now := g.now()
	if !g.lastStart.IsZero() && now.Sub(g.lastStart) < g.minInterval {
		return nil, ErrTooSoon
	}

	g.running = true
	g.lastStart = now

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
		})
	}, nil
}

// RetryAfter is how long until the next Acquire can pass the interval check.
func (g *RefreshGuard) RetryAfter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastStart.IsZero() {
		return 0
	}
	left := g.minInterval - g.now().Sub(g.lastStart)
	if left < 0 {
		return 0
	}
	return left
}
