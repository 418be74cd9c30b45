package ratelimit

import (
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/clock"
)

// Limiter is the per-scope gate the governance layer consults before each
// outbound attempt. Acquire never blocks; a denial carries the wait after
// which a retry can succeed. UpdateLimits feeds outcome-based congestion
// control; fixed-rate algorithms ignore it.
type Limiter interface {
	Acquire(scope string) (bool, time.Duration)
	UpdateLimits(scope string, success bool)
}

var (
	_ Limiter = (*AdaptiveLimiter)(nil)
	_ Limiter = (*BucketLimiter)(nil)
	_ Limiter = (*WindowLimiter)(nil)
)

// BucketLimiter applies one token bucket per scope at a fixed fill rate.
type BucketLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity float64
	fillRate float64
	clk      clock.Clock
}

// NewBucketLimiter creates a BucketLimiter. Every scope starts with a full
// bucket of the given capacity.
func NewBucketLimiter(capacity, fillRate float64, clk clock.Clock) *BucketLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if fillRate <= 0 {
		fillRate = 1
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &BucketLimiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		fillRate: fillRate,
		clk:      clk,
	}
}

func (l *BucketLimiter) bucket(scope string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[scope]
	if !ok {
		b = NewTokenBucket(l.capacity, l.fillRate, l.clk)
		l.buckets[scope] = b
	}
	return b
}

// Acquire consumes one token from the scope's bucket. On denial the wait is
// the time for the deficit to refill.
func (l *BucketLimiter) Acquire(scope string) (bool, time.Duration) {
	b := l.bucket(scope)
	if b.Consume(1) {
		return true, 0
	}
	deficit := 1 - b.Tokens()
	if deficit < 0 {
		deficit = 0
	}
	return false, time.Duration(deficit / l.fillRate * float64(time.Second))
}

// UpdateLimits is a no-op: the fill rate is fixed.
func (l *BucketLimiter) UpdateLimits(string, bool) {}

// WindowLimiter allows at most maxRequests per scope within the trailing
// window.
type WindowLimiter struct {
	mu          sync.Mutex
	windows     map[string]*SlidingWindow
	window      time.Duration
	maxRequests int
	clk         clock.Clock
}

// NewWindowLimiter creates a WindowLimiter.
func NewWindowLimiter(window time.Duration, maxRequests int, clk clock.Clock) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WindowLimiter{
		windows:     make(map[string]*SlidingWindow),
		window:      window,
		maxRequests: maxRequests,
		clk:         clk,
	}
}

func (l *WindowLimiter) win(scope string) *SlidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[scope]
	if !ok {
		w = NewSlidingWindow(l.window, l.maxRequests, l.clk)
		l.windows[scope] = w
	}
	return w
}

// Acquire records a grant in the scope's window. On denial the wait is the
// time until the oldest stamp leaves the window.
func (l *WindowLimiter) Acquire(scope string) (bool, time.Duration) {
	w := l.win(scope)
	if w.Acquire() {
		return true, 0
	}
	return false, w.RetryAfter()
}

// UpdateLimits is a no-op: the window bounds are fixed.
func (l *WindowLimiter) UpdateLimits(string, bool) {}
