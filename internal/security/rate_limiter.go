// Package security holds request guards for the HTTP API.
package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-client request budget.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// RateLimiter enforces a token bucket per client key.
type RateLimiter struct {
	config  RateLimitConfig
	limit   rate.Limit
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		config:  cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether a request from client may proceed.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	if !r.config.Enabled {
		r.mu.Unlock()
		return true
	}
	now := r.now()
	b, ok := r.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.config.Burst)}
		r.buckets[client] = b
	}
	b.lastSeen = now
	r.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// RetryAfter estimates how long client has to wait for the next token.
func (r *RateLimiter) RetryAfter(client string) time.Duration {
	r.mu.Lock()
	b, ok := r.buckets[client]
	limit := r.limit
	r.mu.Unlock()
	if !ok || limit <= 0 {
		return time.Minute
	}

	now := r.now()
	res := b.limiter.ReserveN(now, 1)
	defer res.CancelAt(now)
	return res.DelayFrom(now)
}

// Reconfigure applies a new budget to existing and future clients.
func (r *RateLimiter) Reconfigure(cfg RateLimitConfig) {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = cfg
	r.limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	now := r.now()
	for _, b := range r.buckets {
		b.limiter.SetLimitAt(now, r.limit)
		b.limiter.SetBurstAt(now, cfg.Burst)
	}
}

// Clients returns the number of tracked clients.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// CleanupOldBuckets removes clients not seen for longer than idle.
func (r *RateLimiter) CleanupOldBuckets(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for client, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, client)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine drops idle clients every interval until ctx is done.
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldBuckets(time.Hour)
			}
		}
	}()
}
