package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainThrottle enforces a minimum gap between requests to the same host.
// Each host gets its own token bucket with burst 1, so the first request is
// immediate and later ones wait for the gap to elapse.
type DomainThrottle struct {
	mu       sync.Mutex
	gap      time.Duration
	limiters map[string]*rate.Limiter
}

// NewDomainThrottle creates a throttle. A gap <= 0 disables throttling.
func NewDomainThrottle(gap time.Duration) *DomainThrottle {
	return &DomainThrottle{
		gap:      gap,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to rawURL's host is allowed.
func (d *DomainThrottle) Wait(ctx context.Context, rawURL string) error {
	if d == nil || d.gap <= 0 {
		return nil
	}
	return d.limiter(Host(rawURL)).Wait(ctx)
}

func (d *DomainThrottle) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.gap), 1)
		d.limiters[host] = l
	}
	return l
}

// Host returns the lower-cased host of rawURL, or rawURL itself when unparsable.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
