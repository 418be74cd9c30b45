// Package metrics exposes Prometheus collectors for the orchestration engine.
//
// The engine core only knows the monitor.Collector port; this package maps the
// core's metric names onto pre-registered Prometheus vectors. Collectors are
// built per instance rather than at package level so independent orchestrators
// can coexist in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type counterSpec struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramSpec struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// Metrics implements monitor.Collector backed by Prometheus.
type Metrics struct {
	registry   *prometheus.Registry
	counters   map[string]counterSpec
	histograms map[string]histogramSpec
	unknown    *prometheus.CounterVec
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:   reg,
		counters:   make(map[string]counterSpec),
		histograms: make(map[string]histogramSpec),
	}

	m.counter("scheduler_tasks_added",
		"Tasks accepted by the scheduler, labeled by priority.", "priority")
	m.counter("scheduler_tasks_started",
		"Tasks dispatched to a worker, labeled by priority.", "priority")
	m.counter("scheduler_tasks_completed",
		"Tasks reaching a completion decision, labeled by priority and status.", "priority", "status")
	m.counter("executor_task_started",
		"Task attempts begun by the executor.", "platform", "priority")
	m.counter("executor_task_completed",
		"Task attempts that succeeded.", "platform", "priority")
	m.counter("executor_task_failed",
		"Task attempts that failed.", "platform", "priority")
	m.counter("request_attempts_total",
		"Outbound request attempts, labeled by host and disposition.", "host", "disposition")
	m.counter("request_circuit_open_total",
		"Calls rejected because the host circuit was open.", "host")
	m.counter("ratelimit_denied_total",
		"Governance denials, labeled by scope (domain/identity).", "scope")

	m.histogram("executor_task_duration_seconds",
		"Histogram of task execution time.",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		"platform", "priority")

	m.unknown = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawld_unknown_metric_total",
		Help: "Increments against metric names the registry does not know.",
	}, []string{"name"})
	reg.MustRegister(m.unknown)

	return m
}

func (m *Metrics) counter(name, help string, labels ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.registry.MustRegister(vec)
	m.counters[name] = counterSpec{vec: vec, labels: labels}
}

func (m *Metrics) histogram(name, help string, buckets []float64, labels ...string) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	m.registry.MustRegister(vec)
	m.histograms[name] = histogramSpec{vec: vec, labels: labels}
}

// IncrementCounter bumps the named counter. Unknown names are counted
// separately instead of dropped so wiring mistakes show up on dashboards.
func (m *Metrics) IncrementCounter(name string, labels map[string]string) {
	spec, ok := m.counters[name]
	if !ok {
		m.unknown.WithLabelValues(name).Inc()
		return
	}
	spec.vec.WithLabelValues(labelValues(spec.labels, labels)...).Inc()
}

// Observe records a value on the named histogram.
func (m *Metrics) Observe(name string, value float64, labels map[string]string) {
	spec, ok := m.histograms[name]
	if !ok {
		m.unknown.WithLabelValues(name).Inc()
		return
	}
	spec.vec.WithLabelValues(labelValues(spec.labels, labels)...).Observe(value)
}

// Handler returns an http.Handler exposing this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func labelValues(names []string, provided map[string]string) []string {
	values := make([]string, len(names))
	for i, n := range names {
		v, ok := provided[n]
		if !ok || v == "" {
			v = "unknown"
		}
		values[i] = v
	}
	return values
}
