// Package ratelimit provides a sliding-window request limiter keyed by identifier.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
)

// DefaultWindow is the trailing window over which requests are counted.
const DefaultWindow = time.Minute

// Limiter counts requests per identifier over a trailing window. Rejected requests are not recorded.
// Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	requests map[string][]time.Time
	nowF     func() time.Time
}

// NewLimiter returns a Limiter with the default 60 second window.
func NewLimiter() *Limiter {
	return NewLimiterWithWindow(DefaultWindow)
}

// NewLimiterWithWindow returns a Limiter with the given window.
func NewLimiterWithWindow(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		window:   window,
		requests: make(map[string][]time.Time),
		nowF:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowF = now
}

// IsAllowed reports whether a request for identifier fits within limit requests per window.
// Timestamps at or before the window start are pruned first. An allowed request is recorded.
func (l *Limiter) IsAllowed(identifier string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	kept := l.prune(identifier, now)
	if len(kept) >= limit {
		return false
	}
	l.requests[identifier] = append(kept, now)
	return true
}

// Reset clears the request history for identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, identifier)
}

// Sweep drops identifiers with no requests left in the window and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	removed := 0
	for id := range l.requests {
		if len(l.prune(id, now)) == 0 {
			delete(l.requests, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of identifiers currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Start runs Sweep once per window until ctx is cancelled or the returned task is stopped.
func (l *Limiter) Start(ctx context.Context) *background.Task {
	return background.Every(ctx, l.window, func(context.Context) {
		l.Sweep()
	})
}

// prune must be called with mu held. It stores and returns the timestamps after the window start.
func (l *Limiter) prune(identifier string, now time.Time) []time.Time {
	ts, ok := l.requests[identifier]
	if !ok {
		return nil
	}
	windowStart := now.Add(-l.window)
	i := 0
	for i < len(ts) && !ts[i].After(windowStart) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		l.requests[identifier] = ts
	}
	return ts
}
