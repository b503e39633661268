package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements a per-user token bucket. The key is the user ID
// only, so clients cannot bypass throttling by switching projects.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key per minute, with bursts of
// up to perMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     2 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune drops keys idle for longer than the refill time of a full bucket.
func (r *RateLimiter) prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	removed := 0
	for key, e := range r.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// StartEviction periodically removes idle keys, preventing unbounded memory
// growth. The returned channel is closed once the goroutine exits.
func (r *RateLimiter) StartEviction(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.prune()
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
