package notify

import (
	"context"
	"log/slog"

	"github.com/chainpulse/defi-monitor/internal/alert"
	"github.com/chainpulse/defi-monitor/internal/metrics"
)

// Multi fans out to every configured sink. Per-sink failures are logged and
// swallowed so one dead webhook never blocks the others or the engine.
type Multi struct {
	logger *slog.Logger
	sinks  []Sink
}

func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{logger: logger, sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

// Sinks returns the names of the configured destinations.
func (m *Multi) Sinks() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (m *Multi) SendAlert(ctx context.Context, e alert.Event) error {
	for _, s := range m.sinks {
		if err := s.SendAlert(ctx, e); err != nil {
			metrics.AlertsFailedTotal.WithLabelValues(s.Name()).Inc()
			m.logger.Error("alert delivery failed",
				"sink", s.Name(), "rule_id", e.RuleID, "metric", e.Metric, "error", err)
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(s.Name()).Inc()
	}
	return nil
}

func (m *Multi) SendReport(ctx context.Context, title, body string) error {
	for _, s := range m.sinks {
		if err := s.SendReport(ctx, title, body); err != nil {
			m.logger.Error("report delivery failed", "sink", s.Name(), "error", err)
		}
	}
	return nil
}
