package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/breaker"
	"github.com/crawlkit/crawld/internal/clock"
	"github.com/crawlkit/crawld/internal/crawl"
	"github.com/crawlkit/crawld/internal/identity"
	"github.com/crawlkit/crawld/internal/proxy"
	"github.com/crawlkit/crawld/internal/ratelimit"
	"github.com/crawlkit/crawld/internal/request"
	"github.com/crawlkit/crawld/internal/scheduler"
)

type completion struct {
	id      string
	success bool
	errMsg  string
}

// fakeSource hands out a fixed task list and records completions.
type fakeSource struct {
	mu          sync.Mutex
	pending     []*scheduler.Task
	completions []completion
}

func (s *fakeSource) GetNextTask() *scheduler.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	return t
}

func (s *fakeSource) CompleteTask(id string, success bool, errMsg string) {
	s.mu.Lock()
	s.completions = append(s.completions, completion{id: id, success: success, errMsg: errMsg})
	s.mu.Unlock()
}

func (s *fakeSource) completed() []completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]completion, len(s.completions))
	copy(out, s.completions)
	return out
}

type funcCrawler func(ctx context.Context, req crawl.Request) ([]crawl.Content, error)

func (f funcCrawler) Crawl(ctx context.Context, req crawl.Request) ([]crawl.Content, error) {
	return f(ctx, req)
}

func testGovernor() *request.Governor {
	clk := clock.NewSystem()
	return request.NewGovernor(request.Config{
		MaxAttempts:  1,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		IdentityWait: time.Millisecond,
	},
		breaker.NewRegistry(breaker.Config{FailureThreshold: 100, ResetTimeout: time.Second}, clk),
		ratelimit.NewAdaptiveLimiter(ratelimit.AdaptiveConfig{
			Initial: time.Microsecond,
			Floor:   time.Microsecond,
			Ceiling: time.Millisecond,
		}, clk),
		identity.NewPool(identity.DefaultConfig(), clk, nil),
		proxy.NewPool(nil, proxy.Config{}, nil),
		nil, nil)
}

func testTask(id, platform string) *scheduler.Task {
	return &scheduler.Task{
		ID:       id,
		Platform: platform,
		URL:      "https://h.example/" + id,
		Priority: scheduler.PriorityHigh,
		Status:   scheduler.StatusRunning,
	}
}

func testConfig() Config {
	return Config{
		MaxWorkers:      2,
		IdlePoll:        5 * time.Millisecond,
		RequestTimeout:  time.Second,
		FailureRatioMax: 0.30,
	}
}

func TestExecutorRunsTasks(t *testing.T) {
	source := &fakeSource{pending: []*scheduler.Task{testTask("a", "web"), testTask("b", "web")}}
	registry := crawl.NewRegistry()
	registry.Register("web", funcCrawler(func(_ context.Context, req crawl.Request) ([]crawl.Content, error) {
		return []crawl.Content{{URL: req.URL}}, nil
	}))

	e := New(testConfig(), source, registry, testGovernor(), nil, nil, nil)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(source.completed()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, c := range source.completed() {
		require.True(t, c.success)
	}
	stats := e.GetStats()
	require.Equal(t, 2, stats.TasksCompleted)
	require.Zero(t, stats.TasksFailed)
	require.GreaterOrEqual(t, stats.AvgTime, time.Duration(0))
}

func TestExecutorReportsFailures(t *testing.T) {
	source := &fakeSource{pending: []*scheduler.Task{testTask("a", "web")}}
	registry := crawl.NewRegistry()
	registry.Register("web", funcCrawler(func(context.Context, crawl.Request) ([]crawl.Content, error) {
		return nil, crawl.Transient(errors.New("connection reset"))
	}))

	e := New(testConfig(), source, registry, testGovernor(), nil, nil, nil)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(source.completed()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c := source.completed()[0]
	require.False(t, c.success)
	require.Contains(t, c.errMsg, "connection reset")
	require.Equal(t, 1, e.GetStats().TasksFailed)
}

func TestExecutorUnknownPlatform(t *testing.T) {
	source := &fakeSource{pending: []*scheduler.Task{testTask("a", "nope")}}

	e := New(testConfig(), source, crawl.NewRegistry(), testGovernor(), nil, nil, nil)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(source.completed()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c := source.completed()[0]
	require.False(t, c.success)
	require.Contains(t, c.errMsg, "no crawler")
}

func TestExecutorStartIdempotentStopDrains(t *testing.T) {
	source := &fakeSource{}
	e := New(testConfig(), source, crawl.NewRegistry(), testGovernor(), nil, nil, nil)

	ctx := context.Background()
	e.Start(ctx)
	e.Start(ctx)

	require.Eventually(t, func() bool {
		return e.GetStats().WorkerCount == 2
	}, time.Second, 5*time.Millisecond)

	e.Stop()
	require.Zero(t, e.GetStats().WorkerCount)
	require.False(t, e.GetStats().Running)

	e.Stop()
}

func TestExecutorHealthCheck(t *testing.T) {
	source := &fakeSource{}
	e := New(testConfig(), source, crawl.NewRegistry(), testGovernor(), nil, nil, nil)

	ok, reason := e.HealthCheck()
	require.True(t, ok)
	require.Equal(t, "stopped", reason)

	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		ok, _ := e.HealthCheck()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestExecutorFailureRatioUnhealthy(t *testing.T) {
	source := &fakeSource{}
	for i := 0; i < 10; i++ {
		source.pending = append(source.pending, testTask(string(rune('a'+i)), "web"))
	}
	registry := crawl.NewRegistry()
	registry.Register("web", funcCrawler(func(context.Context, crawl.Request) ([]crawl.Content, error) {
		return nil, crawl.Permanent(errors.New("gone"))
	}))

	e := New(testConfig(), source, registry, testGovernor(), nil, nil, nil)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(source.completed()) == 10
	}, 2*time.Second, 10*time.Millisecond)

	ok, reason := e.HealthCheck()
	require.False(t, ok)
	require.Contains(t, reason, "failure ratio")
}

func TestExecutorSinkErrorFailsTask(t *testing.T) {
	source := &fakeSource{pending: []*scheduler.Task{testTask("a", "web")}}
	registry := crawl.NewRegistry()
	registry.Register("web", funcCrawler(func(context.Context, crawl.Request) ([]crawl.Content, error) {
		return []crawl.Content{{URL: "https://h.example/a"}}, nil
	}))

	e := New(testConfig(), source, registry, testGovernor(), failingSink{}, nil, nil)
	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(source.completed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.False(t, source.completed()[0].success)
}

type failingSink struct{}

func (failingSink) Store(context.Context, string, []crawl.Content) error {
	return errors.New("disk full")
}
