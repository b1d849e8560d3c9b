package medvault

import (
	"log/slog"
	"time"

	"github.com/poiesic/medvault/core"
)

// Metrics receives one observation per completed operation, success or
// failure. Implementations must be safe for concurrent use.
type Metrics interface {
	Observe(op core.Operation, outcome core.Outcome, latencyMS float64, at time.Time)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) Observe(core.Operation, core.Outcome, float64, time.Time) {}

// SlogMetrics emits each observation as a structured log line. It is the
// default sink; deployments that scrape logs get latency data for free.
type SlogMetrics struct {
	Logger *slog.Logger
}

func (m SlogMetrics) Observe(op core.Operation, outcome core.Outcome, latencyMS float64, at time.Time) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("operation complete",
		"op", op.String(),
		"outcome", outcome.String(),
		"latency_ms", latencyMS,
		"at", at.Format(time.RFC3339))
}
