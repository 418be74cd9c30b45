// Package executor runs the bounded worker pool that drains the scheduler.
// Workers poll for tasks, run the platform crawler under request governance,
// and report outcomes back for the retry decision.
package executor

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawl"
	"github.com/crawlkit/crawld/internal/monitor"
	"github.com/crawlkit/crawld/internal/request"
	"github.com/crawlkit/crawld/internal/scheduler"
)

// TaskSource is the executor's view of the scheduler.
type TaskSource interface {
	GetNextTask() *scheduler.Task
	CompleteTask(id string, success bool, errMsg string)
}

// Sink receives extracted content. Out-of-scope persistence hangs off this.
type Sink interface {
	Store(ctx context.Context, platform string, items []crawl.Content) error
}

// NopSink discards content, for setups that only exercise orchestration.
type NopSink struct{}

// Store implements Sink.
func (NopSink) Store(context.Context, string, []crawl.Content) error { return nil }

// Config bounds the pool.
type Config struct {
	MaxWorkers     int
	IdlePoll       time.Duration
	RequestTimeout time.Duration
	// FailureRatioMax is the rolling failed/(completed+failed) ceiling
	// before the health check reports unhealthy.
	FailureRatioMax float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      10,
		IdlePoll:        time.Second,
		RequestTimeout:  30 * time.Second,
		FailureRatioMax: 0.30,
	}
}

// Stats is a cumulative snapshot.
type Stats struct {
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	TotalTime      time.Duration `json:"total_time"`
	AvgTime        time.Duration `json:"avg_time"`
	WorkerCount    int           `json:"worker_count"`
	Running        bool          `json:"running"`
}

// Executor owns the worker pool. Start and Stop pair; Start while running is
// a no-op.
type Executor struct {
	cfg      Config
	source   TaskSource
	factory  crawl.Factory
	governor *request.Governor
	sink     Sink
	logger   *zap.Logger
	metrics  monitor.Collector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	alive     atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
	totalNs   atomic.Int64
}

// New creates a stopped Executor.
func New(
	cfg Config,
	source TaskSource,
	factory crawl.Factory,
	governor *request.Governor,
	sink Sink,
	logger *zap.Logger,
	metrics monitor.Collector,
) *Executor {
	if cfg.MaxWorkers <= 0 {
		cfg = DefaultConfig()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitor.NopCollector{}
	}
	return &Executor{
		cfg:      cfg,
		source:   source,
		factory:  factory,
		governor: governor,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start spawns the worker pool. Idempotent while running.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.logger.Debug("executor already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	for i := 0; i < e.cfg.MaxWorkers; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}
	e.logger.Info("executor started", zap.Int("workers", e.cfg.MaxWorkers))
}

// Stop signals all workers and waits for them to finish their in-flight
// task. Safe to call when already stopped.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("executor stopped")
}

func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	e.alive.Add(1)
	defer e.alive.Add(-1)

	log := e.logger.With(zap.Int("worker", id))
	ticker := time.NewTicker(e.cfg.IdlePoll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		task := e.source.GetNextTask()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		e.runTask(ctx, log, task)
	}
}

func (e *Executor) runTask(ctx context.Context, log *zap.Logger, task *scheduler.Task) {
	labels := map[string]string{
		"platform": task.Platform,
		"priority": task.Priority.String(),
	}
	e.metrics.IncrementCounter("executor_task_started", labels)
	log.Debug("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
	)

	start := time.Now()
	err := e.executeCrawl(ctx, task)
	elapsed := time.Since(start)

	e.totalNs.Add(int64(elapsed))
	e.metrics.Observe("executor_task_duration_seconds", elapsed.Seconds(), labels)

	if err != nil {
		e.failed.Add(1)
		e.metrics.IncrementCounter("executor_task_failed", labels)
		log.Warn("task attempt failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		e.source.CompleteTask(task.ID, false, err.Error())
		return
	}
	e.completed.Add(1)
	e.metrics.IncrementCounter("executor_task_completed", labels)
	e.source.CompleteTask(task.ID, true, "")
}

// executeCrawl resolves the platform crawler and runs it under governance
// with the per-request timeout.
func (e *Executor) executeCrawl(ctx context.Context, task *scheduler.Task) error {
	crawler, ok := e.factory.GetCrawler(task.Platform)
	if !ok {
		return crawl.Permanent(fmt.Errorf("no crawler for platform %q", task.Platform))
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	return e.governor.Do(reqCtx, task.Platform, taskHost(task.URL), func(ctx context.Context, sess request.Session) error {
		req := crawl.Request{URL: task.URL, ProxyURL: sess.Proxy}
		if sess.Identity != nil {
			req.Cookie = sess.Identity.Value
		}
		items, err := crawler.Crawl(ctx, req)
		if err != nil {
			return err
		}
		if err := e.sink.Store(ctx, task.Platform, items); err != nil {
			return crawl.Transient(fmt.Errorf("store content: %w", err))
		}
		return nil
	})
}

// GetStats snapshots cumulative counters.
func (e *Executor) GetStats() Stats {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	completed := int(e.completed.Load())
	failed := int(e.failed.Load())
	total := time.Duration(e.totalNs.Load())
	stats := Stats{
		TasksCompleted: completed,
		TasksFailed:    failed,
		TotalTime:      total,
		WorkerCount:    int(e.alive.Load()),
		Running:        running,
	}
	if n := completed + failed; n > 0 {
		stats.AvgTime = total / time.Duration(n)
	}
	return stats
}

// HealthCheck reports unhealthy when workers have died or the failure ratio
// crosses the configured ceiling.
func (e *Executor) HealthCheck() (bool, string) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return true, "stopped"
	}
	if alive := int(e.alive.Load()); alive < e.cfg.MaxWorkers {
		return false, fmt.Sprintf("%d of %d workers alive", alive, e.cfg.MaxWorkers)
	}
	completed := e.completed.Load()
	failed := e.failed.Load()
	if n := completed + failed; n > 0 {
		if ratio := float64(failed) / float64(n); ratio > e.cfg.FailureRatioMax {
			return false, fmt.Sprintf("failure ratio %.2f exceeds %.2f", ratio, e.cfg.FailureRatioMax)
		}
	}
	return true, "ok"
}

func taskHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
