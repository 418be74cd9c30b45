// Package app assembles the service: configuration, logging, metrics, the
// governance layer, scheduler, executor, and the HTTP front door. Everything
// is injected through constructors so independent instances can coexist.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/alert"
	"github.com/crawlkit/crawld/internal/api"
	"github.com/crawlkit/crawld/internal/breaker"
	"github.com/crawlkit/crawld/internal/clock"
	"github.com/crawlkit/crawld/internal/config"
	"github.com/crawlkit/crawld/internal/crawl"
	"github.com/crawlkit/crawld/internal/executor"
	"github.com/crawlkit/crawld/internal/identity"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/monitor"
	"github.com/crawlkit/crawld/internal/proxy"
	"github.com/crawlkit/crawld/internal/ratelimit"
	"github.com/crawlkit/crawld/internal/request"
	"github.com/crawlkit/crawld/internal/scheduler"
)

// App holds every wired component for one service instance.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clk        clock.Clock
	metrics    *metrics.Metrics
	alerts     monitor.AlertEngine
	sched      *scheduler.Scheduler
	exec       *executor.Executor
	identities *identity.Pool
	idStore    identity.Store
	redisCli   *redis.Client
	server     *http.Server
}

// New builds an App from config.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	clk := clock.NewSystem()
	m := metrics.New()
	alerts := alert.NewLogEngine(logger)

	identities := identity.NewPool(identity.Config{
		DailyCap:        cfg.Identity.DailyCap,
		InitialInterval: time.Duration(cfg.Identity.InitialIntervalSec) * time.Second,
		MinInterval:     time.Duration(cfg.Identity.MinIntervalSec) * time.Second,
		MaxInterval:     time.Duration(cfg.Identity.MaxIntervalSec) * time.Second,
	}, clk, logger)

	var (
		idStore  identity.Store
		redisCli *redis.Client
	)
	switch cfg.Identity.Store {
	case "redis":
		redisCli = redis.NewClient(&redis.Options{Addr: cfg.Identity.RedisAddr})
		idStore = identity.NewRedisStore(redisCli, cfg.Identity.RedisKey)
	default:
		idStore = identity.NewFileStore(cfg.Identity.FilePath)
	}

	proxies := proxy.NewPool(cfg.Proxy.Addresses, proxy.Config{
		HealthFloor: cfg.Proxy.HealthFloor,
	}, logger)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSec) * time.Second,
	}, clk)

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Algorithm {
	case "bucket":
		limiter = ratelimit.NewBucketLimiter(cfg.RateLimit.BucketCapacity, cfg.RateLimit.BucketFillRate, clk)
	case "window":
		limiter = ratelimit.NewWindowLimiter(
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.WindowMaxRequests, clk)
	default:
		limiter = ratelimit.NewAdaptiveLimiter(ratelimit.AdaptiveConfig{
			Initial: time.Duration(cfg.RateLimit.InitialIntervalMs) * time.Millisecond,
			Floor:   time.Duration(cfg.RateLimit.FloorMs) * time.Millisecond,
			Ceiling: time.Duration(cfg.RateLimit.CeilingSec) * time.Second,
		}, clk)
	}

	governor := request.NewGovernor(request.Config{
		MaxAttempts:  cfg.Request.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Request.BackoffBaseMs) * time.Millisecond,
		BackoffMax:   time.Duration(cfg.Request.BackoffMaxSec) * time.Second,
		IdentityWait: time.Duration(cfg.Request.IdentityWaitSec) * time.Second,
	}, breakers, limiter, identities, proxies, logger, m)

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		MaxTasksPerHost:    cfg.Scheduler.MaxTasksPerHost,
		RetryDelay:         cfg.Scheduler.RetryDelay(),
		StuckThreshold:     cfg.Scheduler.StuckThreshold(),
	}, clk, logger, m, alerts)

	registry := crawl.NewRegistry()
	collector := crawl.NewCollyCrawler(crawl.CollyConfig{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   time.Duration(cfg.Crawler.TimeoutSec) * time.Second,
	}, clk)
	for _, platform := range cfg.Crawler.Platforms {
		registry.Register(platform, collector)
	}

	exec := executor.New(executor.Config{
		MaxWorkers:      cfg.Executor.MaxWorkers,
		IdlePoll:        cfg.Executor.IdlePoll(),
		RequestTimeout:  cfg.Executor.RequestTimeout(),
		FailureRatioMax: cfg.Executor.FailureRatioMax,
	}, sched, registry, governor, nil, logger, m)

	srv := api.NewServer(api.Config{
		ClientRPS:   cfg.Server.ClientRPS,
		ClientBurst: cfg.Server.ClientBurst,
	}, sched, exec, m, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		clk:        clk,
		metrics:    m,
		alerts:     alerts,
		sched:      sched,
		exec:       exec,
		identities: identities,
		idStore:    idStore,
		redisCli:   redisCli,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Logger exposes the app logger for command-level messages.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts the executor, background maintenance, and the HTTP server,
// then blocks until ctx is canceled and shutdown completes.
func (a *App) Run(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ids, err := a.idStore.Load(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	for _, id := range ids {
		a.identities.Add(id)
	}
	a.logger.Info("identities loaded", zap.Int("count", len(ids)))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	a.exec.Start(runCtx)
	go a.healthWatcher(runCtx)
	go a.maintenanceLoop(runCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// A server failure still goes through shutdown so workers stop and
	// identities get saved.
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	if err := a.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.exec.Stop()

	if err := a.idStore.Save(shutdownCtx, a.identities.Snapshot()); err != nil {
		a.logger.Error("save identities", zap.Error(err))
	}
	if a.redisCli != nil {
		if err := a.redisCli.Close(); err != nil {
			a.logger.Warn("redis close", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	return nil
}

// healthWatcher polls component health and alerts on healthy-to-unhealthy
// transitions.
func (a *App) healthWatcher(ctx context.Context) {
	interval := time.Duration(a.cfg.Executor.HealthIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := map[string]bool{"scheduler": true, "executor": true}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checks := map[string]func() (bool, string){
				"scheduler": a.sched.HealthCheck,
				"executor":  a.exec.HealthCheck,
			}
			for name, check := range checks {
				ok, reason := check()
				if !ok && healthy[name] {
					a.alerts.SendAlert(name+" unhealthy", reason, monitor.LevelWarning)
				}
				healthy[name] = ok
			}
		}
	}
}

// maintenanceLoop prunes task history on an interval and resets identity
// daily counters at each UTC day boundary.
func (a *App) maintenanceLoop(ctx context.Context) {
	cleanupEvery := time.Duration(a.cfg.Executor.CleanupIntervalMin) * time.Minute
	if cleanupEvery <= 0 {
		cleanupEvery = time.Hour
	}
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	dayTimer := time.NewTimer(untilNextMidnight(a.clk.Now()))
	defer dayTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			ttl := time.Duration(a.cfg.Scheduler.HistoryTTLHours) * time.Hour
			a.sched.ClearCompletedTasks(a.clk.Now().Add(-ttl))
		case <-dayTimer.C:
			a.identities.ResetDailyCounts()
			a.identities.PurgeExpired()
			dayTimer.Reset(untilNextMidnight(a.clk.Now()))
		}
	}
}

func untilNextMidnight(now time.Time) time.Duration {
	next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
