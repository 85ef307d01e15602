package session

import (
	"log/slog"
	"sync"
	"time"
)

// Default sliding-window bounds.
const (
	DefaultRateLimit  = 30
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter is a per-actor sliding-window admission gate. It is applied to
// user-initiated entry points only, never to background jobs.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[int64][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimit overrides the request limit per window.
func WithRateLimit(limit int) RateLimiterOption {
	return func(r *RateLimiter) { r.limit = limit }
}

// WithRateWindow overrides the window length.
func WithRateWindow(window time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.window = window }
}

// WithRateClock overrides the time source (tests).
func WithRateClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter creates a rate limiter with the given options.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		windows: make(map[int64][]time.Time),
		limit:   DefaultRateLimit,
		window:  DefaultRateWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	slog.Debug("Rate limiter created", "limit", r.limit, "window", r.window)
	return r
}

// Allow admits or rejects a request for the actor. On rejection, wait is how
// long the actor must hold off before the oldest timestamp ages out.
func (r *RateLimiter) Allow(actor int64) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	window := r.windows[actor]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= r.limit {
		r.windows[actor] = kept
		wait := r.window - now.Sub(kept[0]) + time.Second
		slog.Debug("Rate limiter rejected request", "actor", actor, "count", len(kept), "wait", wait)
		return false, wait
	}

	r.windows[actor] = append(kept, now)
	return true, 0
}

// Sweep removes actors whose windows are empty. Run periodically by the
// scheduler to keep the map bounded.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	removed := 0
	for actor, window := range r.windows {
		live := false
		for _, ts := range window {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(r.windows, actor)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Rate limiter swept idle actors", "removed", removed, "remaining", len(r.windows))
	}
	return removed
}
