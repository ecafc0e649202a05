package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
	"github.com/chainpulse/defi-monitor/internal/metrics"
	"github.com/chainpulse/defi-monitor/internal/notify"
	"github.com/chainpulse/defi-monitor/internal/report"
)

const (
	fetchTimeout = 30 * time.Second
	snapBuffer   = 16
)

// Persistence is what the engine needs from the database layer.
type Persistence interface {
	SaveRule(ctx context.Context, r alert.Rule) error
	InsertEvent(ctx context.Context, e alert.Event) error
	InsertObservations(ctx context.Context, obs []alert.Observation) error
	PruneObservations(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StateMirror mirrors evaluator state for crash recovery. Implementations
// are best-effort and report failures through their own logging.
type StateMirror interface {
	SaveRuleState(ctx context.Context, id int64, st alert.State)
	SaveLastSeen(ctx context.Context, metric string, at time.Time)
}

// Engine polls registered data sources, feeds every snapshot metric through
// the alert evaluator, persists history and crossing events, and delivers
// alerts. Evaluation runs on a single worker so rule state transitions stay
// serialized no matter how many sources poll concurrently.
type Engine struct {
	rules    *alert.Store
	eval     *alert.Evaluator
	db       Persistence
	mirror   StateMirror
	notifier notify.Sink
	reports  *report.Builder
	logger   *slog.Logger

	pollInterval time.Duration
	reportHour   int
	reportDir    string
	retention    time.Duration

	sources  map[string]Source
	lastSnap map[string]*Snapshot
	mu       sync.RWMutex

	snapCh chan *Snapshot
}

// Options carries the engine's collaborators and tuning knobs.
type Options struct {
	Rules        *alert.Store
	Evaluator    *alert.Evaluator
	DB           Persistence
	Mirror       StateMirror
	Notifier     notify.Sink
	Reports      *report.Builder
	Logger       *slog.Logger
	PollInterval time.Duration
	ReportHour   int
	ReportDir    string
	Retention    time.Duration
}

func NewEngine(opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	return &Engine{
		rules:        opts.Rules,
		eval:         opts.Evaluator,
		db:           opts.DB,
		mirror:       opts.Mirror,
		notifier:     opts.Notifier,
		reports:      opts.Reports,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		reportHour:   opts.ReportHour,
		reportDir:    opts.ReportDir,
		retention:    opts.Retention,
		sources:      make(map[string]Source),
		lastSnap:     make(map[string]*Snapshot),
		snapCh:       make(chan *Snapshot, snapBuffer),
	}
}

// Register adds a data source to the engine.
func (e *Engine) Register(src Source) {
	e.sources[src.Name()] = src
	e.logger.Info("registered source", "source", src.Name())
}

// SourceNames returns names of all registered sources.
func (e *Engine) SourceNames() []string {
	names := make([]string, 0, len(e.sources))
	for n := range e.sources {
		names = append(names, n)
	}
	return names
}

// GetSnapshot returns the latest cached snapshot for a source.
func (e *Engine) GetSnapshot(source string) *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSnap[source]
}

// Snapshots returns every cached snapshot, polled or streamed.
func (e *Engine) Snapshots() []*Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Snapshot, 0, len(e.lastSnap))
	for _, snap := range e.lastSnap {
		out = append(out, snap)
	}
	return out
}

// PollInterval reports the configured polling cadence.
func (e *Engine) PollInterval() time.Duration { return e.pollInterval }

// EnsureRule creates a rule unless one with the same metric, comparator and
// threshold already exists. Watchlist seed rules go through here so config
// reloads stay idempotent.
func (e *Engine) EnsureRule(ctx context.Context, metric string, cmp alert.Comparator, threshold float64) (alert.Rule, bool, error) {
	for _, r := range e.rules.List(metric) {
		if r.Comparator == cmp && r.Threshold == threshold {
			return r, false, nil
		}
	}

	r, err := e.rules.Create(metric, cmp, threshold)
	if err != nil {
		return alert.Rule{}, false, err
	}
	if err := e.db.SaveRule(ctx, r); err != nil {
		e.logger.Error("persist seed rule failed", "rule_id", r.ID, "error", err)
	}
	e.logger.Info("seed rule created",
		"rule_id", r.ID, "metric", metric, "comparator", cmp, "threshold", threshold)
	return r, true, nil
}

// Run starts the evaluation worker, the polling loop and the daily report
// scheduler. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.worker(ctx)

	// Initial fetch
	e.pollAll(ctx)

	pollTicker := time.NewTicker(e.pollInterval)
	defer pollTicker.Stop()

	reportTimer := e.nextReportTimer()
	defer reportTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			e.pollAll(ctx)
		case <-reportTimer.C:
			e.dailyReport(ctx)
			reportTimer = e.nextReportTimer()
		}
	}
}

func (e *Engine) pollAll(ctx context.Context) {
	metrics.RulesActive.Set(float64(e.rules.Len()))
	for name, src := range e.sources {
		go e.pollSource(ctx, name, src)
	}
}

func (e *Engine) pollSource(ctx context.Context, name string, src Source) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	start := time.Now()
	snap, err := src.FetchSnapshot(fctx)
	metrics.PollDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollTotal.WithLabelValues(name, "error").Inc()
		e.logger.Error("fetch snapshot failed", "source", name, "error", err)
		return
	}
	metrics.PollTotal.WithLabelValues(name, "ok").Inc()
	metrics.PollLastSuccess.WithLabelValues(name).SetToCurrentTime()

	e.mu.Lock()
	e.lastSnap[name] = snap
	e.mu.Unlock()

	e.logger.Info("snapshot", "source", name, "metrics", snap.Metrics)

	select {
	case e.snapCh <- snap:
	case <-ctx.Done():
	}
}

// Offer queues a snapshot produced outside the polling loop, such as a
// streaming collector. The snapshot joins the same single-worker queue as
// polled ones, so evaluation stays serialized, and it is cached for
// /api/stats like any polled snapshot.
func (e *Engine) Offer(ctx context.Context, snap *Snapshot) {
	e.mu.Lock()
	e.lastSnap[snap.Source] = snap
	e.mu.Unlock()

	select {
	case e.snapCh <- snap:
	case <-ctx.Done():
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-e.snapCh:
			e.handleSnapshot(ctx, snap)
		}
	}
}

func (e *Engine) handleSnapshot(ctx context.Context, snap *Snapshot) {
	accepted := make([]alert.Observation, 0, len(snap.Metrics))
	var events []alert.Event

	for metric, value := range snap.Metrics {
		obs := alert.Observation{Metric: metric, Value: value, At: snap.FetchedAt}

		prev, seen := e.eval.LastSeen(metric)

		evs, err := e.eval.Evaluate(obs)
		if err != nil {
			metrics.ObservationsTotal.WithLabelValues(snap.Source, "invalid").Inc()
			e.logger.Warn("observation rejected",
				"source", snap.Source, "metric", metric, "error", err)
			continue
		}
		if seen && !obs.At.After(prev) {
			// The evaluator's watermark dropped this observation as stale.
			metrics.ObservationsTotal.WithLabelValues(snap.Source, "stale").Inc()
			continue
		}
		metrics.ObservationsTotal.WithLabelValues(snap.Source, "ok").Inc()
		metrics.MetricValue.WithLabelValues(snap.Source, metric).Set(value)

		accepted = append(accepted, obs)
		events = append(events, evs...)

		if e.mirror != nil {
			e.mirror.SaveLastSeen(ctx, metric, obs.At)
			for _, r := range e.rules.List(metric) {
				e.mirror.SaveRuleState(ctx, r.ID, r.State)
			}
		}
	}

	if len(accepted) > 0 {
		if err := e.db.InsertObservations(ctx, accepted); err != nil {
			e.logger.Error("persist observations failed", "source", snap.Source, "error", err)
		}
	}

	for _, ev := range events {
		metrics.EventsTotal.WithLabelValues(ev.Metric, string(ev.Direction)).Inc()
		if err := e.db.InsertEvent(ctx, ev); err != nil {
			e.logger.Error("persist event failed", "rule_id", ev.RuleID, "error", err)
		}
		e.logger.Info("alert triggered",
			"rule_id", ev.RuleID, "metric", ev.Metric, "value", ev.Value,
			"threshold", ev.Threshold, "direction", ev.Direction)
		if err := e.notifier.SendAlert(ctx, ev); err != nil {
			e.logger.Error("send alert failed", "rule_id", ev.RuleID, "error", err)
		}
	}
}

func (e *Engine) dailyReport(ctx context.Context) {
	if e.reports == nil {
		return
	}

	rep, err := e.reports.Build(ctx)
	if err != nil {
		e.logger.Error("build daily report failed", "error", err)
		return
	}
	if err := e.notifier.SendReport(ctx, "Daily DeFi Report", rep.Text()); err != nil {
		e.logger.Error("send daily report failed", "error", err)
	}

	if e.reportDir != "" {
		html, err := rep.HTML()
		if err != nil {
			e.logger.Error("render report html failed", "error", err)
		} else {
			path := filepath.Join(e.reportDir, report.Filename(rep.GeneratedAt))
			if err := report.RenderPNG(ctx, html, path); err != nil {
				e.logger.Error("render report png failed", "error", err)
			} else {
				e.logger.Info("report saved", "path", path)
			}
		}
	}

	if e.retention > 0 {
		pruned, err := e.db.PruneObservations(ctx, e.retention)
		if err != nil {
			e.logger.Error("prune observations failed", "error", err)
		} else if pruned > 0 {
			e.logger.Info("pruned old observations", "rows", pruned)
		}
	}
}

func (e *Engine) nextReportTimer() *time.Timer {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), e.reportHour, 0, 0, 0, time.UTC)
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	duration := time.Until(next)
	e.logger.Info("next daily report", "at", next.Format(time.RFC3339), "in", duration.Round(time.Minute))
	return time.NewTimer(duration)
}
