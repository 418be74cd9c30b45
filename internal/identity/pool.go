// Package identity manages the pool of rotating request identities (cookies,
// session tokens). Selection enforces per-identity daily caps and an adaptive
// minimum spacing that tightens on success and relaxes on failure, spreading
// load so no single identity draws platform throttling.
package identity

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/clock"
)

// Identity is one rotable credential for a platform.
type Identity struct {
	Platform   string
	Value      string
	LastUsedAt time.Time
	UsesToday  int
	Interval   time.Duration
	ExpiresAt  time.Time
}

// Config bounds identity selection and interval adaptation.
type Config struct {
	DailyCap        int
	InitialInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the caps observed to keep accounts under platform
// radar: 300 uses per identity per day, spacing adapted between 2s and 30s.
func DefaultConfig() Config {
	return Config{
		DailyCap:        300,
		InitialInterval: 5 * time.Second,
		MinInterval:     2 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Pool holds identities grouped by platform. One mutex guards one pool
// instance; independent pools never contend.
type Pool struct {
	mu         sync.Mutex
	byPlatform map[string][]*Identity
	cfg        Config
	clk        clock.Clock
	logger     *zap.Logger
	rnd        *rand.Rand
}

// NewPool creates an empty Pool.
func NewPool(cfg Config, clk clock.Clock, logger *zap.Logger) *Pool {
	if cfg.DailyCap <= 0 {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		byPlatform: make(map[string][]*Identity),
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
		rnd:        rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// Add registers an identity. A zero Interval gets the configured initial
// spacing.
func (p *Pool) Add(id Identity) {
	if id.Interval <= 0 {
		id.Interval = p.cfg.InitialInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byPlatform[id.Platform] = append(p.byPlatform[id.Platform], &id)
}

// Has reports whether any identities exist for the platform, eligible or not.
// Callers use it to distinguish "back off and retry" from "run anonymous".
func (p *Pool) Has(platform string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPlatform[platform]) > 0
}

// Get returns a uniformly random eligible identity for the platform, or nil
// when none is currently eligible. Selection stamps last-use and counts
// against the daily cap.
func (p *Pool) Get(platform string) *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	var eligible []*Identity
	for _, id := range p.byPlatform[platform] {
		if !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt) {
			continue
		}
		if id.UsesToday >= p.cfg.DailyCap {
			continue
		}
		if !id.LastUsedAt.IsZero() && now.Sub(id.LastUsedAt) < id.Interval {
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return nil
	}
	id := eligible[p.rnd.Intn(len(eligible))]
	id.LastUsedAt = now
	id.UsesToday++
	return id
}

// ReportOutcome feeds a request outcome back into the identity's spacing:
// success shrinks the interval 10% down to the floor, failure doubles it up
// to the ceiling.
func (p *Pool) ReportOutcome(id *Identity, success bool) {
	if id == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		id.Interval = max(p.cfg.MinInterval, time.Duration(float64(id.Interval)*0.9))
	} else {
		id.Interval = min(p.cfg.MaxInterval, id.Interval*2)
	}
}

// ResetDailyCounts zeros every identity's daily use counter. An external
// day-boundary trigger calls this once per day.
func (p *Pool) ResetDailyCounts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ids := range p.byPlatform {
		for _, id := range ids {
			id.UsesToday = 0
		}
	}
	p.logger.Info("identity daily counters reset")
}

// PurgeExpired drops identities past their TTL and returns how many were
// removed.
func (p *Pool) PurgeExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	removed := 0
	for platform, ids := range p.byPlatform {
		kept := ids[:0]
		for _, id := range ids {
			if !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt) {
				removed++
				continue
			}
			kept = append(kept, id)
		}
		p.byPlatform[platform] = kept
	}
	if removed > 0 {
		p.logger.Info("purged expired identities", zap.Int("count", removed))
	}
	return removed
}

// Snapshot copies every identity out of the pool, for persistence.
func (p *Pool) Snapshot() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Identity
	for _, ids := range p.byPlatform {
		for _, id := range ids {
			out = append(out, *id)
		}
	}
	return out
}
