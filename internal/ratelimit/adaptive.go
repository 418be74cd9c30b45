package ratelimit

import (
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/clock"
)

// AdaptiveConfig bounds the per-domain interval adjustments.
type AdaptiveConfig struct {
	Initial time.Duration
	Floor   time.Duration
	Ceiling time.Duration
}

// DefaultAdaptiveConfig mirrors the spacing observed to keep hostile hosts
// from escalating: start at one second, never go below half a second, back
// off to at most a minute.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Initial: time.Second,
		Floor:   500 * time.Millisecond,
		Ceiling: time.Minute,
	}
}

// domainGate carries its own lock so contention on one domain never
// serializes requests to another.
type domainGate struct {
	mu          sync.Mutex
	interval    time.Duration
	lastGranted time.Time
}

// AdaptiveLimiter enforces a minimum spacing between granted requests per
// domain and adjusts that spacing from outcome feedback: multiplicative
// decrease on success, multiplicative increase on failure.
type AdaptiveLimiter struct {
	mu    sync.RWMutex
	gates map[string]*domainGate
	cfg   AdaptiveConfig
	clk   clock.Clock
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
func NewAdaptiveLimiter(cfg AdaptiveConfig, clk clock.Clock) *AdaptiveLimiter {
	if cfg.Initial <= 0 {
		cfg = DefaultAdaptiveConfig()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &AdaptiveLimiter{
		gates: make(map[string]*domainGate),
		cfg:   cfg,
		clk:   clk,
	}
}

func (l *AdaptiveLimiter) gate(domain string) *domainGate {
	l.mu.RLock()
	g, ok := l.gates[domain]
	l.mu.RUnlock()
	if ok {
		return g
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok = l.gates[domain]; ok {
		return g
	}
	g = &domainGate{interval: l.cfg.Initial}
	l.gates[domain] = g
	return g
}

// Acquire grants iff at least the domain's current interval has elapsed since
// the last grant. On denial it returns the remaining wait so the caller can
// back off; the gate itself never blocks.
func (l *AdaptiveLimiter) Acquire(domain string) (bool, time.Duration) {
	g := l.gate(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	now := l.clk.Now()
	if !g.lastGranted.IsZero() {
		elapsed := now.Sub(g.lastGranted)
		if elapsed < g.interval {
			return false, g.interval - elapsed
		}
	}
	g.lastGranted = now
	return true, 0
}

// UpdateLimits applies congestion feedback: success shrinks the interval by
// 10% down to the floor, failure doubles it up to the ceiling.
func (l *AdaptiveLimiter) UpdateLimits(domain string, success bool) {
	g := l.gate(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	if success {
		g.interval = max(l.cfg.Floor, time.Duration(float64(g.interval)*0.9))
	} else {
		g.interval = min(l.cfg.Ceiling, g.interval*2)
	}
}

// Interval reports the current spacing for a domain.
func (l *AdaptiveLimiter) Interval(domain string) time.Duration {
	g := l.gate(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}
