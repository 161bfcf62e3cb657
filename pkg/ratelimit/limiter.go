package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow takes a token if one is available
	Allow() bool
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the limiter
	Reset()
}

// TokenBucket implements a token bucket rate limiter. Tokens are added
// continuously at capacity/period, up to capacity.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	perToken   time.Duration
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket that admits capacity requests per period
func NewTokenBucket(capacity int, period time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	tb := &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		perToken: period / time.Duration(capacity),
		now:      time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// PerMinute creates a bucket admitting n requests per minute
func PerMinute(n int) *TokenBucket {
	return NewTokenBucket(n, time.Minute)
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tb.Allow() {
			return nil
		}

		timer := time.NewTimer(tb.untilNextToken())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reset refills the bucket to capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// Available returns the number of whole tokens currently in the bucket
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return int(tb.tokens)
}

func (tb *TokenBucket) untilNextToken() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	missing := 1 - tb.tokens
	if missing <= 0 {
		return 0
	}
	wait := time.Duration(missing * float64(tb.perToken))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 || tb.perToken <= 0 {
		return
	}

	tb.tokens += float64(elapsed) / float64(tb.perToken)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
