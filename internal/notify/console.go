package notify

import (
	"context"
	"log/slog"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

// Console logs alerts and reports through the structured logger. Always on,
// so every crossing is visible even with no external sink configured.
type Console struct {
	logger *slog.Logger
}

func NewConsole(logger *slog.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) Name() string { return "console" }

func (c *Console) SendAlert(_ context.Context, e alert.Event) error {
	c.logger.Warn("alert triggered",
		"rule_id", e.RuleID,
		"metric", e.Metric,
		"value", e.Value,
		"threshold", e.Threshold,
		"direction", string(e.Direction),
		"observed_at", e.At)
	return nil
}

func (c *Console) SendReport(_ context.Context, title, body string) error {
	c.logger.Info("report", "title", title, "size", len(body))
	return nil
}
