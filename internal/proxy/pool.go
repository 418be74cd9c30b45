// Package proxy maintains the outbound proxy pool with score-based health
// tracking. Selection is weighted random over healthy candidates; unhealthy
// proxies are deprioritized rather than evicted so they can recover.
package proxy

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

const (
	maxScore     = 100
	successBonus = 10
	failureCost  = 20
)

// Record tracks one proxy's health.
type Record struct {
	Address      string
	SuccessCount int
	FailureCount int
	Score        int
}

// Config controls selection.
type Config struct {
	// HealthFloor is the score below which a proxy is only selected when no
	// healthier candidate exists.
	HealthFloor int
}

// Pool is a shared, mutex-guarded proxy pool.
type Pool struct {
	mu      sync.Mutex
	records []*Record
	cfg     Config
	logger  *zap.Logger
	rnd     *rand.Rand
}

// NewPool seeds a Pool with the given proxy addresses, all starting healthy.
func NewPool(addresses []string, cfg Config, logger *zap.Logger) *Pool {
	if cfg.HealthFloor <= 0 {
		cfg.HealthFloor = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		rnd:    rand.New(rand.NewSource(rand.Int63())),
	}
	for _, addr := range addresses {
		p.records = append(p.records, &Record{Address: addr, Score: maxScore})
	}
	return p
}

// Get returns a proxy address biased toward historical success, or false when
// the pool is empty. Proxies above the health floor are preferred; when none
// qualify, the whole pool competes so a recovering proxy gets traffic again.
func (p *Pool) Get() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) == 0 {
		return "", false
	}

	candidates := make([]*Record, 0, len(p.records))
	for _, r := range p.records {
		if r.Score >= p.cfg.HealthFloor {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		candidates = p.records
	}

	total := 0
	for _, r := range candidates {
		total += r.Score
	}
	if total <= 0 {
		return candidates[p.rnd.Intn(len(candidates))].Address, true
	}
	pick := p.rnd.Intn(total)
	for _, r := range candidates {
		pick -= r.Score
		if pick < 0 {
			return r.Address, true
		}
	}
	return candidates[len(candidates)-1].Address, true
}

// Report feeds an outcome back into the address's score and counters.
// Unknown addresses are ignored.
func (p *Pool) Report(address string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.Address != address {
			continue
		}
		if success {
			r.SuccessCount++
			r.Score = min(maxScore, r.Score+successBonus)
		} else {
			r.FailureCount++
			r.Score = max(0, r.Score-failureCost)
			if r.Score < p.cfg.HealthFloor {
				p.logger.Warn("proxy below health floor",
					zap.String("proxy", r.Address),
					zap.Int("score", r.Score),
				)
			}
		}
		return
	}
}

// Add registers a new proxy at full health.
func (p *Pool) Add(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.Address == address {
			return
		}
	}
	p.records = append(p.records, &Record{Address: address, Score: maxScore})
}

// Snapshot copies the current records, for stats endpoints and tests.
func (p *Pool) Snapshot() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, *r)
	}
	return out
}
