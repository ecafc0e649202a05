package notify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

// Sink delivers alert events and daily reports to one destination.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// SendAlert delivers one threshold crossing.
	SendAlert(ctx context.Context, e alert.Event) error

	// SendReport delivers a titled plain-text report.
	SendReport(ctx context.Context, title, body string) error
}

// FormatEvent renders a crossing as a human-readable alert message.
func FormatEvent(e alert.Event) string {
	arrow := "📈"
	word := "ABOVE"
	if e.Direction == alert.CrossedDown {
		arrow = "📉"
		word = "BELOW"
	}

	return fmt.Sprintf("🚨 DEFI ALERT: %s\n\n"+
		"%s Crossed %s threshold\n"+
		"Current:   %s\n"+
		"Threshold: %s\n\n"+
		"Rule #%d | %s",
		strings.ToUpper(e.Metric),
		arrow,
		word,
		formatNum(e.Value),
		formatNum(e.Threshold),
		e.RuleID,
		e.At.Format("2006-01-02 15:04:05 MST"))
}

func formatNum(v float64) string {
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	}
	return fmt.Sprintf("%.4f", v)
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}

// truncate caps a message body for transports with hard length limits.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
