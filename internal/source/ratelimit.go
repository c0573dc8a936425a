// ratelimit.go implements token-bucket pacing for upstream history requests.
//
// The broker tolerates roughly 3 requests per second per session; we pace at
// 2.5/s by default to stay clear of the hard limit. The bucket refills
// continuously rather than in window bursts, and capacity may be fractional,
// so a freshly started sync gets a small burst and then settles onto the
// steady rate.
package source

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter shared by every in-flight symbol fetch.
// Callers block in Acquire until a token is available or the context is
// cancelled. Fairness is FIFO-ish: sleeping callers re-contend on wakeup.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current tokens, fractional
	capacity float64   // maximum burst
	rate     float64   // tokens per second
	lastTime time.Time // last refill instant
}

// NewTokenBucket creates a limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}
