// Package alert provides the default monitor.AlertEngine implementation.
// Delivery channels (email, webhooks) are external collaborators; the engine
// shipped here writes structured log records an operator pipeline can tail.
package alert

import "go.uber.org/zap"

// LogEngine implements monitor.AlertEngine on top of zap.
type LogEngine struct {
	logger *zap.Logger
}

// NewLogEngine creates a LogEngine.
func NewLogEngine(logger *zap.Logger) *LogEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEngine{logger: logger}
}

// SendAlert records the alert at a level matching its severity.
func (e *LogEngine) SendAlert(title, message, level string) {
	fields := []zap.Field{
		zap.String("alert_title", title),
		zap.String("alert_level", level),
	}
	switch level {
	case "error":
		e.logger.Error(message, fields...)
	default:
		e.logger.Warn(message, fields...)
	}
}
