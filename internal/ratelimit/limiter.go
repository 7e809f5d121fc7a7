// Package ratelimit paces task submission.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces submissions at least delay apart. A zero delay disables
// waiting entirely.
type Throttle struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	delay   time.Duration
}

// NewThrottle returns a Throttle admitting one submission per delay.
func NewThrottle(delay time.Duration) *Throttle {
	t := &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	t.SetDelay(delay)
	return t
}

// NewThrottleMillis is NewThrottle for a delay given in milliseconds.
func NewThrottleMillis(ms int) *Throttle {
	return NewThrottle(time.Duration(ms) * time.Millisecond)
}

// Wait blocks until the next submission is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.RLock()
	limiter := t.limiter
	delay := t.delay
	t.mu.RUnlock()

	if delay <= 0 {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// SetDelay changes the spacing between submissions.
func (t *Throttle) SetDelay(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	t.delay = delay
	if delay == 0 {
		t.limiter.SetLimit(rate.Inf)
		return
	}
	t.limiter.SetLimit(rate.Every(delay))
	t.limiter.SetBurst(1)
}

// Delay returns the configured spacing.
func (t *Throttle) Delay() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.delay
}
