// Package scheduler owns the priority queues, the running-task set, and the
// per-host concurrency accounting. Every operation takes the scheduler mutex
// once and never blocks inside it; retry delays run on detached timers that
// re-acquire the lock only to push the task back onto its queue.
package scheduler

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/clock"
	"github.com/crawlkit/crawld/internal/monitor"
)

// Config bounds scheduler behavior.
type Config struct {
	MaxConcurrentTasks int
	MaxTasksPerHost    int
	RetryDelay         time.Duration
	// StuckThreshold is how long a task may run before the health check
	// reports the scheduler unhealthy.
	StuckThreshold time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 10,
		MaxTasksPerHost:    3,
		RetryDelay:         time.Minute,
		StuckThreshold:     time.Hour,
	}
}

// QueueStats is a point-in-time queue snapshot.
type QueueStats struct {
	TotalPending int `json:"total_pending"`
	Running      int `json:"running"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
}

// Scheduler is safe for concurrent use by many workers.
type Scheduler struct {
	mu         sync.Mutex
	queues     [numPriorities][]*Task
	tasks      map[string]*Task
	running    map[string]struct{}
	hostCounts map[string]int

	cfg     Config
	clk     clock.Clock
	after   func(time.Duration, func())
	logger  *zap.Logger
	metrics monitor.Collector
	alerts  monitor.AlertEngine
}

// New creates a Scheduler. Nil collaborators default to no-ops.
func New(cfg Config, clk clock.Clock, logger *zap.Logger, metrics monitor.Collector, alerts monitor.AlertEngine) *Scheduler {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitor.NopCollector{}
	}
	if alerts == nil {
		alerts = monitor.NopAlertEngine{}
	}
	after := func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	if deferrer, ok := clk.(clock.Deferrer); ok {
		after = deferrer.AfterFunc
	}
	return &Scheduler{
		tasks:      make(map[string]*Task),
		running:    make(map[string]struct{}),
		hostCounts: make(map[string]int),
		cfg:        cfg,
		clk:        clk,
		after:      after,
		logger:     logger,
		metrics:    metrics,
		alerts:     alerts,
	}
}

// AddTask enqueues a task. Duplicate ids are rejected with a log line, not an
// error; the caller only needs the boolean.
func (s *Scheduler) AddTask(t Task) bool {
	if t.Priority < PriorityHigh || t.Priority > PriorityLow {
		t.Priority = PriorityLow
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		s.logger.Warn("duplicate task rejected", zap.String("task_id", t.ID))
		return false
	}
	t.Status = StatusPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clk.Now()
	}
	task := &t
	s.tasks[task.ID] = task
	s.queues[task.Priority] = append(s.queues[task.Priority], task)

	s.metrics.IncrementCounter("scheduler_tasks_added", map[string]string{
		"priority": task.Priority.String(),
	})
	s.logger.Debug("task added",
		zap.String("task_id", task.ID),
		zap.String("platform", task.Platform),
		zap.String("priority", task.Priority.String()),
	)
	return true
}

// GetNextTask dispatches the next eligible task, or nil when the global cap
// is reached or no queued task's host is under its cap. Scanning is
// HIGH→MEDIUM→LOW, FIFO within a level; host-blocked tasks are skipped in
// place so they stay at the front for the next pass.
func (s *Scheduler) GetNextTask() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.running) >= s.cfg.MaxConcurrentTasks {
		return nil
	}
	for prio := range s.queues {
		for i, task := range s.queues[prio] {
			host := taskHost(task.URL)
			if s.hostCounts[host] >= s.cfg.MaxTasksPerHost {
				continue
			}
			s.queues[prio] = append(s.queues[prio][:i], s.queues[prio][i+1:]...)
			task.Status = StatusRunning
			task.StartedAt = s.clk.Now()
			s.running[task.ID] = struct{}{}
			s.hostCounts[host]++

			s.metrics.IncrementCounter("scheduler_tasks_started", map[string]string{
				"priority": task.Priority.String(),
			})
			return task
		}
	}
	return nil
}

// CompleteTask records a task outcome. Failures under the retry budget go to
// RETRY and are re-enqueued after RetryDelay on a detached timer; exhausted
// failures become FAILED and raise an alert. Unknown ids are a logged no-op,
// expected during history cleanup races.
func (s *Scheduler) CompleteTask(id string, success bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		s.logger.Warn("complete for unknown task", zap.String("task_id", id))
		return
	}
	if _, isRunning := s.running[id]; !isRunning {
		s.logger.Warn("complete for task not running",
			zap.String("task_id", id),
			zap.String("status", string(task.Status)),
		)
		return
	}
	delete(s.running, id)
	host := taskHost(task.URL)
	if s.hostCounts[host] > 0 {
		s.hostCounts[host]--
		if s.hostCounts[host] == 0 {
			delete(s.hostCounts, host)
		}
	}
	task.Error = errMsg

	switch {
	case success:
		task.Status = StatusCompleted
		task.CompletedAt = s.clk.Now()
	case task.RetryCount < task.MaxRetries:
		task.Status = StatusRetry
		task.RetryCount++
		s.logger.Info("task scheduled for retry",
			zap.String("task_id", id),
			zap.Int("retry_count", task.RetryCount),
			zap.Duration("delay", s.cfg.RetryDelay),
		)
		// Detached: the delay must not run under the scheduler lock. The
		// timer comes from the clock so tests can fire it deterministically.
		s.after(s.cfg.RetryDelay, func() { s.requeue(id) })
	default:
		task.Status = StatusFailed
		task.CompletedAt = s.clk.Now()
		s.logger.Error("task failed permanently",
			zap.String("task_id", id),
			zap.String("platform", task.Platform),
			zap.String("error", errMsg),
		)
		s.alerts.SendAlert(
			"task failed",
			fmt.Sprintf("task %s (platform %s) failed after %d retries: %s",
				id, task.Platform, task.RetryCount, errMsg),
			monitor.LevelError,
		)
	}
	s.metrics.IncrementCounter("scheduler_tasks_completed", map[string]string{
		"priority": task.Priority.String(),
		"status":   string(task.Status),
	})
}

// requeue pushes a RETRY task back onto its original priority queue. Runs on
// the retry timer goroutine.
func (s *Scheduler) requeue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != StatusRetry {
		// Pruned or force-completed while the timer was pending.
		return
	}
	task.Status = StatusPending
	s.queues[task.Priority] = append(s.queues[task.Priority], task)
	s.logger.Debug("task requeued", zap.String("task_id", id))
}

// GetQueueStats snapshots queue depths and the running count.
func (s *Scheduler) GetQueueStats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{
		Running: len(s.running),
		High:    len(s.queues[PriorityHigh]),
		Medium:  len(s.queues[PriorityMedium]),
		Low:     len(s.queues[PriorityLow]),
	}
	stats.TotalPending = stats.High + stats.Medium + stats.Low
	return stats
}

// TaskStatus returns a copy of the task record, if known.
func (s *Scheduler) TaskStatus(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ClearCompletedTasks prunes terminal tasks completed before the cutoff and
// returns how many were removed. A zero cutoff prunes all terminal tasks.
func (s *Scheduler) ClearCompletedTasks(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, task := range s.tasks {
		if !task.Status.Terminal() {
			continue
		}
		if !before.IsZero() && !task.CompletedAt.Before(before) {
			continue
		}
		delete(s.tasks, id)
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned terminal tasks", zap.Int("count", removed))
	}
	return removed
}

// HealthCheck reports unhealthy when a running task exceeds the stuck
// threshold or the running set exceeds the configured cap.
func (s *Scheduler) HealthCheck() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.running) > s.cfg.MaxConcurrentTasks {
		return false, fmt.Sprintf("running count %d exceeds max %d",
			len(s.running), s.cfg.MaxConcurrentTasks)
	}
	now := s.clk.Now()
	for id := range s.running {
		task := s.tasks[id]
		if age := now.Sub(task.StartedAt); age > s.cfg.StuckThreshold {
			return false, fmt.Sprintf("task %s running for %s", id, age.Round(time.Second))
		}
	}
	return true, "ok"
}

// taskHost extracts the URL host for fairness accounting. Unparseable URLs
// share one bucket so malformed input cannot dodge the cap.
func taskHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
