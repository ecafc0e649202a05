package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

const (
	defaultWindow = 24 * time.Hour
	historyLimit  = 500
)

// Storage is the slice of the persistence layer reports are built from.
type Storage interface {
	LatestObservations(ctx context.Context) ([]alert.Observation, error)
	MetricHistory(ctx context.Context, metric string, since time.Time, limit int) ([]alert.Observation, error)
	CountEventsSince(ctx context.Context, since time.Time) (int, error)
}

// Builder assembles summary reports from stored observations and events.
type Builder struct {
	store  Storage
	logger *slog.Logger
	window time.Duration
}

func NewBuilder(s Storage, logger *slog.Logger) *Builder {
	return &Builder{store: s, logger: logger, window: defaultWindow}
}

// Report is a point-in-time summary of every tracked metric.
type Report struct {
	GeneratedAt time.Time
	Window      time.Duration
	AlertCount  int
	Metrics     []MetricSummary
}

// MetricSummary describes one metric over the report window.
type MetricSummary struct {
	Metric    string
	Latest    float64
	At        time.Time
	First     float64
	ChangePct float64
	Min       float64
	Max       float64
	Series    []float64
}

// Build reads the latest observation for every metric plus its history over
// the report window. A metric whose history query fails is still reported
// with its latest value, just without change stats or a chart.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	now := time.Now().UTC()
	since := now.Add(-b.window)

	latest, err := b.store.LatestObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest observations: %w", err)
	}
	alerts, err := b.store.CountEventsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	r := &Report{GeneratedAt: now, Window: b.window, AlertCount: alerts}
	for _, obs := range latest {
		hist, err := b.store.MetricHistory(ctx, obs.Metric, since, historyLimit)
		if err != nil {
			b.logger.Error("metric history failed", "metric", obs.Metric, "error", err)
			hist = nil
		}
		r.Metrics = append(r.Metrics, summarize(obs, hist))
	}
	sort.Slice(r.Metrics, func(i, j int) bool { return r.Metrics[i].Metric < r.Metrics[j].Metric })
	return r, nil
}

func summarize(latest alert.Observation, hist []alert.Observation) MetricSummary {
	m := MetricSummary{
		Metric: latest.Metric,
		Latest: latest.Value,
		At:     latest.At,
		Min:    latest.Value,
		Max:    latest.Value,
	}
	if len(hist) == 0 {
		return m
	}

	m.First = hist[0].Value
	m.Min, m.Max = hist[0].Value, hist[0].Value
	m.Series = make([]float64, 0, len(hist))
	for _, o := range hist {
		m.Series = append(m.Series, o.Value)
		if o.Value < m.Min {
			m.Min = o.Value
		}
		if o.Value > m.Max {
			m.Max = o.Value
		}
	}
	if m.First != 0 {
		m.ChangePct = (m.Latest - m.First) / math.Abs(m.First) * 100
	}
	return m
}

// Filename returns the file name used for saved report snapshots.
func Filename(ts time.Time) string {
	return "defi_report_" + ts.Format("20060102_1504") + ".png"
}
