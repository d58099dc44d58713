package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket holding at most one token, refilled at a
// fixed rate. A nil RateLimiter never blocks.
type RateLimiter struct {
	rate     float64 // tokens per second
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. perMinute <= 0 disables limiting and returns nil.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		tokens:   1,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > 1 {
			rl.tokens = 1
		}
		rl.lastTime = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(wait, 250*time.Millisecond)):
		}
	}
}
