package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerClient throttles inbound API callers with one token bucket per key
// (client address or API key).
type PerClient struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPerClient creates a PerClient limiter. A non-positive rps disables
// limiting.
func NewPerClient(rps float64, burst int) *PerClient {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &PerClient{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Allow reports whether the keyed caller may proceed right now.
func (p *PerClient) Allow(key string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}
