// Package api exposes the HTTP interface for the orchestration engine.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/executor"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/ratelimit"
	"github.com/crawlkit/crawld/internal/scheduler"
)

// Config controls server behavior.
type Config struct {
	// ClientRPS and ClientBurst bound requests per client IP; zero RPS
	// disables the limit.
	ClientRPS   float64
	ClientBurst int
}

// Server wires HTTP handlers to the scheduler and executor.
type Server struct {
	router  chi.Router
	sched   *scheduler.Scheduler
	exec    *executor.Executor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	sched *scheduler.Scheduler,
	exec *executor.Executor,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sched:   sched,
		exec:    exec,
		metrics: m,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(rateLimitMiddleware(ratelimit.NewPerClient(cfg.ClientRPS, cfg.ClientBurst)))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", s.metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.submitTask)
		r.Get("/tasks/{task_id}", s.getTask)
		r.Get("/stats", s.getStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type submitTaskRequest struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	URL        string `json:"url"`
	Priority   string `json:"priority"`
	MaxRetries *int   `json:"max_retries"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Platform == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "platform and url required")
		return
	}
	priority, err := parsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	task := scheduler.Task{
		ID:         id,
		Platform:   req.Platform,
		URL:        req.URL,
		Priority:   priority,
		MaxRetries: maxRetries,
	}
	if !s.sched.AddTask(task) {
		writeError(w, http.StatusConflict, fmt.Sprintf("task %s already exists", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	task, ok := s.sched.TaskStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":    s.sched.GetQueueStats(),
		"executor": s.exec.GetStats(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	schedOK, schedReason := s.sched.HealthCheck()
	execOK, execReason := s.exec.HealthCheck()
	payload := map[string]any{
		"scheduler": map[string]any{"healthy": schedOK, "reason": schedReason},
		"executor":  map[string]any{"healthy": execOK, "reason": execReason},
	}
	status := http.StatusOK
	if !schedOK || !execOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

func taskResponse(t scheduler.Task) map[string]any {
	resp := map[string]any{
		"id":          t.ID,
		"platform":    t.Platform,
		"url":         t.URL,
		"priority":    t.Priority.String(),
		"status":      string(t.Status),
		"retry_count": t.RetryCount,
		"max_retries": t.MaxRetries,
		"created_at":  t.CreatedAt,
	}
	if !t.StartedAt.IsZero() {
		resp["started_at"] = t.StartedAt
	}
	if !t.CompletedAt.IsZero() {
		resp["completed_at"] = t.CompletedAt
	}
	if t.Error != "" {
		resp["error"] = t.Error
	}
	return resp
}

func parsePriority(raw string) (scheduler.Priority, error) {
	switch strings.ToLower(raw) {
	case "", "medium":
		return scheduler.PriorityMedium, nil
	case "high":
		return scheduler.PriorityHigh, nil
	case "low":
		return scheduler.PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", raw)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
