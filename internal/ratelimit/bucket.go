// Package ratelimit implements the request throttling primitives used by the
// governance layer: a token bucket, a sliding window, and an adaptive
// per-domain interval gate. All primitives deny without blocking; backoff is
// the caller's responsibility.
package ratelimit

import (
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/clock"
)

// TokenBucket refills continuously at fillRate tokens per second up to
// capacity. Consume deducts atomically or denies without side effect.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	fillRate float64
	tokens   float64
	lastFill time.Time
	clk      clock.Clock
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity, fillRate float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TokenBucket{
		capacity: capacity,
		fillRate: fillRate,
		tokens:   capacity,
		lastFill: clk.Now(),
		clk:      clk,
	}
}

func (b *TokenBucket) refill() {
	now := b.clk.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.fillRate)
	}
	b.lastFill = now
}

// Consume takes n tokens if available. A denial leaves the bucket untouched;
// there is no partial consumption.
func (b *TokenBucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Tokens reports the current level after a lazy refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
