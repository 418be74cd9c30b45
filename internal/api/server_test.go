package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/breaker"
	"github.com/crawlkit/crawld/internal/clock"
	"github.com/crawlkit/crawld/internal/crawl"
	"github.com/crawlkit/crawld/internal/executor"
	"github.com/crawlkit/crawld/internal/identity"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/proxy"
	"github.com/crawlkit/crawld/internal/ratelimit"
	"github.com/crawlkit/crawld/internal/request"
	"github.com/crawlkit/crawld/internal/scheduler"
)

func testServer(t *testing.T, cfg Config) (*Server, *scheduler.Scheduler) {
	t.Helper()
	clk := clock.NewSystem()
	m := metrics.New()
	sched := scheduler.New(scheduler.DefaultConfig(), clk, nil, m, nil)
	governor := request.NewGovernor(request.DefaultConfig(),
		breaker.NewRegistry(breaker.DefaultConfig(), clk),
		ratelimit.NewAdaptiveLimiter(ratelimit.DefaultAdaptiveConfig(), clk),
		identity.NewPool(identity.DefaultConfig(), clk, nil),
		proxy.NewPool(nil, proxy.Config{}, nil),
		nil, nil)
	exec := executor.New(executor.DefaultConfig(), sched, crawl.NewRegistry(), governor, nil, nil, m)
	return NewServer(cfg, sched, exec, m, nil), sched
}

func postTask(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	srv, sched := testServer(t, Config{})

	rec := postTask(t, srv, `{"platform":"web","url":"https://h.example/p","priority":"high"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])

	task, ok := sched.TaskStatus(resp["task_id"])
	require.True(t, ok)
	require.Equal(t, scheduler.PriorityHigh, task.Priority)
	require.Equal(t, 3, task.MaxRetries)
}

func TestSubmitTaskDuplicate(t *testing.T) {
	srv, _ := testServer(t, Config{})

	body := `{"id":"t1","platform":"web","url":"https://h.example/p"}`
	require.Equal(t, http.StatusAccepted, postTask(t, srv, body).Code)
	require.Equal(t, http.StatusConflict, postTask(t, srv, body).Code)
}

func TestSubmitTaskValidation(t *testing.T) {
	srv, _ := testServer(t, Config{})

	require.Equal(t, http.StatusBadRequest, postTask(t, srv, `not json`).Code)
	require.Equal(t, http.StatusBadRequest, postTask(t, srv, `{"platform":"web"}`).Code)
	require.Equal(t, http.StatusBadRequest,
		postTask(t, srv, `{"platform":"web","url":"https://h.example","priority":"urgent"}`).Code)
}

func TestGetTask(t *testing.T) {
	srv, sched := testServer(t, Config{})
	require.True(t, sched.AddTask(scheduler.Task{
		ID:       "t1",
		Platform: "web",
		URL:      "https://h.example/p",
		Priority: scheduler.PriorityLow,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "t1", resp["id"])
	require.Equal(t, "low", resp["priority"])
	require.Equal(t, "pending", resp["status"])

	req = httptest.NewRequest(http.MethodGet, "/v1/tasks/ghost", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	srv, sched := testServer(t, Config{})
	require.True(t, sched.AddTask(scheduler.Task{
		ID: "t1", Platform: "web", URL: "https://h.example/p", Priority: scheduler.PriorityHigh,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queue scheduler.QueueStats `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Queue.High)
	require.Equal(t, 1, resp.Queue.TotalPending)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, sched := testServer(t, Config{})
	require.True(t, sched.AddTask(scheduler.Task{
		ID: "t1", Platform: "web", URL: "https://h.example/p",
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scheduler_tasks_added")
}

func TestRateLimitMiddleware(t *testing.T) {
	srv, _ := testServer(t, Config{ClientRPS: 0.001, ClientBurst: 1})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client is unaffected.
	other := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParsePriority(t *testing.T) {
	p, err := parsePriority("")
	require.NoError(t, err)
	require.Equal(t, scheduler.PriorityMedium, p)

	p, err = parsePriority("HIGH")
	require.NoError(t, err)
	require.Equal(t, scheduler.PriorityHigh, p)

	_, err = parsePriority("urgent")
	require.Error(t, err)
}
