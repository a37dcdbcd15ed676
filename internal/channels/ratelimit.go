package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket: a burst of operations up to capacity,
// refilled at a steady rate per second. Adapters use one per outbound
// connection to stay under a platform's API rate limit.
type RateLimiter struct {
	rate       float64
	capacity   int
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter allowing rate operations/second with
// bursts up to capacity.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	return &RateLimiter{rate: rate, capacity: capacity, tokens: float64(capacity), lastRefill: time.Now()}
}

// Wait blocks until a token is available or ctx is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.waitDuration()):
		}
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}

func (r *RateLimiter) waitDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
}
