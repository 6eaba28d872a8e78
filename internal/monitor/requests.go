package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/ratelimit"
)

// requestKey is the limiter identifier under which outbound requests are counted.
const requestKey = "outbound"

// RequestCounter is a RoundTripper that counts outbound requests over a trailing minute.
// Requests are never blocked; the first request over the limit reports suspicious activity, and the
// report re-arms once the trailing minute has room again.
type RequestCounter struct {
	next    http.RoundTripper
	limit   int
	counter *ratelimit.Limiter
	report  func(context.Context, Event)

	mu          sync.Mutex
	overflowing bool
}

// NewRequestCounter wraps next (http.DefaultTransport when nil) with a limit of requests per minute.
func NewRequestCounter(next http.RoundTripper, limit int, report func(context.Context, Event)) *RequestCounter {
	if next == nil {
		next = http.DefaultTransport
	}
	if limit <= 0 {
		limit = DefaultRequestLimit
	}
	return &RequestCounter{
		next:    next,
		limit:   limit,
		counter: ratelimit.NewLimiterWithWindow(time.Minute),
		report:  report,
	}
}

// RoundTrip counts req and forwards it.
func (c *RequestCounter) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.observe() && c.report != nil {
		c.report(req.Context(), Event{
			Type:        EventSuspiciousActivity,
			Severity:    SeverityMedium,
			Description: "Unusual number of outbound requests",
			Metadata:    map[string]any{"limit_per_minute": c.limit, "host": req.URL.Host},
		})
	}
	return c.next.RoundTrip(req)
}

// observe records one request and reports whether it starts a new overflow.
func (c *RequestCounter) observe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counter.IsAllowed(requestKey, c.limit) {
		c.overflowing = false
		return false
	}
	if c.overflowing {
		return false
	}
	c.overflowing = true
	return true
}
