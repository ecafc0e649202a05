package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defi_monitor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defi_monitor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Polling / source metrics ───────────────────────────────────────────

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total number of poll attempts per source.",
	}, []string{"source", "status"})

	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defi_monitor",
		Subsystem: "poll",
		Name:      "duration_seconds",
		Help:      "Duration of poll fetch per source in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	PollLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "defi_monitor",
		Subsystem: "poll",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful poll per source.",
	}, []string{"source"})
)

// ── Evaluation metrics ─────────────────────────────────────────────────

var (
	ObservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "eval",
		Name:      "observations_total",
		Help:      "Total observations fed to the alert evaluator.",
	}, []string{"source", "status"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "eval",
		Name:      "events_total",
		Help:      "Total threshold crossing events emitted.",
	}, []string{"metric", "direction"})

	RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defi_monitor",
		Subsystem: "eval",
		Name:      "rules_active",
		Help:      "Number of alert rules currently loaded.",
	})

	MetricValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "defi_monitor",
		Subsystem: "eval",
		Name:      "metric_value",
		Help:      "Latest observed value of a tracked metric.",
	}, []string{"source", "metric"})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"sink"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_monitor",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"sink"})
)
