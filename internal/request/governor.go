// Package request is the governance layer wrapped around every outbound
// call: per-host circuit breaking, adaptive rate limiting, identity and
// proxy selection, and attempt-level retry with exponential backoff. Task
// retry lives above this in the scheduler; a task only fails once the
// attempt budget here is exhausted.
package request

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/breaker"
	"github.com/crawlkit/crawld/internal/crawl"
	"github.com/crawlkit/crawld/internal/identity"
	"github.com/crawlkit/crawld/internal/monitor"
	"github.com/crawlkit/crawld/internal/proxy"
	"github.com/crawlkit/crawld/internal/ratelimit"
)

// ErrCircuitOpen means the host's breaker refused the call; nothing was
// attempted. Counted separately from request failures so it never feeds the
// breaker further.
var ErrCircuitOpen = errors.New("circuit open")

// Session is the identity and proxy assigned to one attempt.
type Session struct {
	Identity *identity.Identity
	Proxy    string
}

// AttemptFunc performs one governed attempt with the assigned session.
type AttemptFunc func(ctx context.Context, sess Session) error

// Config bounds the attempt loop.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// IdentityWait is the pause when identities exist for the platform but
	// none is currently eligible.
	IdentityWait time.Duration
}

// DefaultConfig retries up to 3 attempts with 1s-base exponential backoff
// capped at 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		BackoffMax:   30 * time.Second,
		IdentityWait: 2 * time.Second,
	}
}

// pauser abstracts backoff waits so tests run without real sleeps.
type pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Governor runs attempts through the shared governance components.
type Governor struct {
	cfg        Config
	breakers   *breaker.Registry
	limiter    ratelimit.Limiter
	identities *identity.Pool
	proxies    *proxy.Pool
	logger     *zap.Logger
	metrics    monitor.Collector
	pause      pauser

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGovernor wires the governance components together. All of them are
// shared across workers; only cfg is per-governor.
func NewGovernor(
	cfg Config,
	breakers *breaker.Registry,
	limiter ratelimit.Limiter,
	identities *identity.Pool,
	proxies *proxy.Pool,
	logger *zap.Logger,
	metrics monitor.Collector,
) *Governor {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitor.NopCollector{}
	}
	return &Governor{
		cfg:        cfg,
		breakers:   breakers,
		limiter:    limiter,
		identities: identities,
		proxies:    proxies,
		logger:     logger,
		metrics:    metrics,
		pause:      timerPauser{},
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs fn under governance for the given platform and host. It returns
// nil on the first successful attempt, ErrCircuitOpen when the breaker
// refuses, and otherwise the last attempt's error once the budget or a
// permanent failure ends the loop.
func (g *Governor) Do(ctx context.Context, platform, host string, fn AttemptFunc) error {
	br := g.breakers.Get(host)
	var lastErr error

	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if !br.CanExecute() {
			g.metrics.IncrementCounter("request_circuit_open_total", map[string]string{"host": host})
			g.logger.Warn("circuit open, refusing call",
				zap.String("host", host),
				zap.String("platform", platform),
			)
			return ErrCircuitOpen
		}

		// Rate-limit denials wait out the remaining interval without
		// consuming an attempt; the task context still bounds total time.
		if ok, wait := g.limiter.Acquire(host); !ok {
			g.metrics.IncrementCounter("ratelimit_denied_total", map[string]string{"scope": host})
			g.pause.Pause(ctx, wait)
			attempt--
			continue
		}

		sess, ok := g.session(platform)
		if !ok {
			// Identities exist but all are cooling down; wait and retry
			// the same attempt.
			g.pause.Pause(ctx, g.cfg.IdentityWait)
			attempt--
			continue
		}

		err := fn(ctx, sess)
		if err == nil {
			g.feedback(br, host, sess, true)
			g.metrics.IncrementCounter("request_attempts_total", map[string]string{
				"host": host, "disposition": "success",
			})
			return nil
		}
		lastErr = err
		disposition := crawl.Classify(err)
		g.metrics.IncrementCounter("request_attempts_total", map[string]string{
			"host": host, "disposition": disposition.String(),
		})

		switch disposition {
		case crawl.DispositionRateLimited:
			// Platform pushback is throttling feedback, not a host fault:
			// rotate identity and widen intervals, leave the breaker alone.
			if g.identities != nil {
				g.identities.ReportOutcome(sess.Identity, false)
			}
			g.limiter.UpdateLimits(host, false)
			g.logger.Info("rate limited, rotating identity",
				zap.String("host", host),
				zap.String("platform", platform),
				zap.Int("attempt", attempt+1),
			)
		case crawl.DispositionPermanent:
			g.feedback(br, host, sess, false)
			return lastErr
		default:
			g.feedback(br, host, sess, false)
			g.pause.Pause(ctx, g.backoff(attempt))
		}
	}
	return fmt.Errorf("attempts exhausted: %w", lastErr)
}

// session picks an identity and proxy for one attempt. ok is false only when
// identities exist for the platform but none is eligible right now; a
// platform with no identities at all runs anonymous.
func (g *Governor) session(platform string) (Session, bool) {
	var sess Session
	if g.identities != nil && g.identities.Has(platform) {
		sess.Identity = g.identities.Get(platform)
		if sess.Identity == nil {
			return Session{}, false
		}
	}
	if g.proxies != nil {
		if addr, ok := g.proxies.Get(); ok {
			sess.Proxy = addr
		}
	}
	return sess, true
}

// feedback fans one outcome out to the breaker, limiter, identity, and proxy.
func (g *Governor) feedback(br *breaker.Breaker, host string, sess Session, success bool) {
	if success {
		br.RecordSuccess()
	} else {
		br.RecordFailure()
	}
	g.limiter.UpdateLimits(host, success)
	if g.identities != nil {
		g.identities.ReportOutcome(sess.Identity, success)
	}
	if g.proxies != nil && sess.Proxy != "" {
		g.proxies.Report(sess.Proxy, success)
	}
}

// backoff returns base*2^attempt capped at the ceiling, with up to 10%
// jitter so retries from parallel workers spread out.
func (g *Governor) backoff(attempt int) time.Duration {
	d := g.cfg.BackoffBase << uint(attempt)
	if d > g.cfg.BackoffMax || d <= 0 {
		d = g.cfg.BackoffMax
	}
	g.mu.Lock()
	jitter := time.Duration(g.rnd.Int63n(int64(d)/10 + 1))
	g.mu.Unlock()
	return d + jitter
}
