// Package monitor defines the observability ports consumed by the scheduler,
// executor, and request governance layer. Implementations live elsewhere
// (Prometheus collectors, zap-backed alerting) so the core never depends on a
// concrete backend.
package monitor

// Collector records counters and observations. Implementations must be
// non-blocking; the hot path fires and forgets.
type Collector interface {
	IncrementCounter(name string, labels map[string]string)
	Observe(name string, value float64, labels map[string]string)
}

// AlertEngine delivers operator alerts. Invoked on terminal task failures and
// on scheduler/executor unhealthy transitions.
type AlertEngine interface {
	SendAlert(title, message, level string)
}

// Alert levels passed to AlertEngine.SendAlert.
const (
	LevelWarning = "warning"
	LevelError   = "error"
)

// NopCollector discards all metrics.
type NopCollector struct{}

// IncrementCounter is a no-op.
func (NopCollector) IncrementCounter(string, map[string]string) {}

// Observe is a no-op.
func (NopCollector) Observe(string, float64, map[string]string) {}

// NopAlertEngine discards all alerts.
type NopAlertEngine struct{}

// SendAlert is a no-op.
func (NopAlertEngine) SendAlert(string, string, string) {}
