package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIncrementCounter(t *testing.T) {
	m := New()
	m.IncrementCounter("scheduler_tasks_added", map[string]string{"priority": "high"})
	m.IncrementCounter("scheduler_tasks_added", map[string]string{"priority": "high"})

	spec := m.counters["scheduler_tasks_added"]
	require.InDelta(t, 2, testutil.ToFloat64(spec.vec.WithLabelValues("high")), 0.001)
}

func TestMissingLabelFallsBack(t *testing.T) {
	m := New()
	m.IncrementCounter("scheduler_tasks_added", nil)

	spec := m.counters["scheduler_tasks_added"]
	require.InDelta(t, 1, testutil.ToFloat64(spec.vec.WithLabelValues("unknown")), 0.001)
}

func TestUnknownMetricCounted(t *testing.T) {
	m := New()
	m.IncrementCounter("no_such_metric", nil)
	m.Observe("no_such_histogram", 1.5, nil)

	require.InDelta(t, 1, testutil.ToFloat64(m.unknown.WithLabelValues("no_such_metric")), 0.001)
	require.InDelta(t, 1, testutil.ToFloat64(m.unknown.WithLabelValues("no_such_histogram")), 0.001)
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.IncrementCounter("scheduler_tasks_added", map[string]string{"priority": "high"})

	require.InDelta(t, 0,
		testutil.ToFloat64(b.counters["scheduler_tasks_added"].vec.WithLabelValues("high")), 0.001)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Observe("executor_task_duration_seconds", 0.25, map[string]string{
		"platform": "web", "priority": "high",
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "executor_task_duration_seconds")
}
