// Package limiter implements the three cooperating admission limiters:
// per-connection token buckets, per-handler call windows, and the global
// in-flight cap.
package limiter

import (
	"sync"
	"sync/atomic"
	"time"
)

// TokenBucket is a per-connection token bucket. Allow is atomic on the fast
// path; the refill takes a short mutex.
type TokenBucket struct {
	tokens   atomic.Int64
	capacity int64

	mu         sync.Mutex
	lastRefill time.Time
	refillEach time.Duration
}

// NewTokenBucket creates a full bucket that regains one token every
// refillEach.
func NewTokenBucket(capacity int64, refillEach time.Duration) *TokenBucket {
	b := &TokenBucket{
		capacity:   capacity,
		lastRefill: time.Now(),
		refillEach: refillEach,
	}
	b.tokens.Store(capacity)
	return b
}

// Allow consumes one token, refilling first if the interval elapsed.
func (b *TokenBucket) Allow() bool {
	return b.allowAt(time.Now())
}

func (b *TokenBucket) allowAt(now time.Time) bool {
	if b.tokens.Load() <= 0 {
		b.refill(now)
	}
	if b.tokens.Add(-1) >= 0 {
		return true
	}
	b.tokens.Add(1)
	return false
}

func (b *TokenBucket) refill(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.refillEach {
		return
	}
	n := int64(elapsed / b.refillEach)
	b.lastRefill = b.lastRefill.Add(time.Duration(n) * b.refillEach)
	if t := b.tokens.Add(n); t > b.capacity {
		b.tokens.Store(b.capacity)
	}
}
