// Package breaker implements a per-host circuit breaker. After a run of
// failures the breaker opens and calls fail fast; once the reset timeout
// elapses a single probe is let through (half-open) and its outcome decides
// whether the circuit closes again.
package breaker

import (
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/clock"
)

// State is the breaker's position in its cycle.
type State int

// Breaker states. The cycle is CLOSED -> OPEN -> HALF_OPEN -> {CLOSED, OPEN}.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config controls when a breaker trips and recovers.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig trips after 5 consecutive failures and probes again after a
// minute.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: time.Minute}
}

// Breaker guards one dependency.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	clk      clock.Clock
	state    State
	failures int
	openedAt time.Time
}

// New creates a closed Breaker.
func New(cfg Config, clk clock.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Breaker{cfg: cfg, clk: clk, state: StateClosed}
}

// CanExecute reports whether a call may be attempted. When the breaker is
// open and the reset timeout has elapsed, it transitions to half-open and
// admits one probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.clk.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure counts a failure; at the threshold (or on a half-open probe
// failure) the breaker opens and stamps the transition time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.clk.Now()
	}
}

// State reports the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry hands out one Breaker per key (host), creating on demand. The
// registry lock covers only the map; each breaker locks independently.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	clk      clock.Clock
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		clk:      clk,
	}
}

// Get returns the breaker for key, creating it closed if absent.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = New(r.cfg, r.clk)
	r.breakers[key] = b
	return b
}
