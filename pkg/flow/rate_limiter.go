package flow

import (
	"context"
	"sync"
	"time"
)

// RateLimiter limits operations per second with a token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing perSec operations per second
// with bursts of up to burst. A burst below one is raised to one.
func NewRateLimiter(perSec, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(perSec),
		lastRefill: time.Now(),
	}
}

// Acquire takes n tokens, blocking until they are available.
func (r *RateLimiter) Acquire(ctx context.Context, n int) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= float64(n) || (r.tokens == r.maxTokens && float64(n) > r.maxTokens) {
			r.tokens -= float64(n)
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TryAcquire takes n tokens if they are available now.
func (r *RateLimiter) TryAcquire(n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= float64(n) {
		r.tokens -= float64(n)
		return true
	}
	return false
}

func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}
