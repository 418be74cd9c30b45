package ratelimit

import (
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/clock"
)

// SlidingWindow allows at most maxRequests grants within any trailing window.
type SlidingWindow struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	stamps      []time.Time
	clk         clock.Clock
}

// NewSlidingWindow creates an empty window.
func NewSlidingWindow(window time.Duration, maxRequests int, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SlidingWindow{
		window:      window,
		maxRequests: maxRequests,
		clk:         clk,
	}
}

// Acquire prunes expired stamps, then denies iff the window is full.
func (w *SlidingWindow) Acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clk.Now()
	w.prune(now)
	if len(w.stamps) >= w.maxRequests {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Pending reports the number of unexpired grants.
func (w *SlidingWindow) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.clk.Now())
	return len(w.stamps)
}

// RetryAfter reports how long until the next Acquire can succeed: zero when
// the window has room, otherwise the time until the oldest stamp expires.
func (w *SlidingWindow) RetryAfter() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clk.Now()
	w.prune(now)
	if len(w.stamps) < w.maxRequests {
		return 0
	}
	return w.stamps[0].Add(w.window).Sub(now)
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
