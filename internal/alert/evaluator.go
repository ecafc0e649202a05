package alert

import "time"

// Evaluator applies observations to the rule set and reports threshold
// crossings. Deduplication is the rule state machine itself: a crossing
// fires exactly once on the Armed→Triggered edge, then stays quiet until
// a recovery observation re-arms the rule. No separate cooldown window
// or event log is kept.
//
// Evaluation is synchronous and serialized: one observation is processed
// fully (read state, decide, write state) under the store lock before the
// next begins. Callers running parallel pollers must funnel observations
// through a single Evaluate caller.
type Evaluator struct {
	store *Store

	// lastSeen is the per-metric watermark of processed observation
	// timestamps. Guarded by store.mu.
	lastSeen map[string]time.Time
}

// NewEvaluator returns an evaluator over the given store.
func NewEvaluator(store *Store) *Evaluator {
	return &Evaluator{
		store:    store,
		lastSeen: make(map[string]time.Time),
	}
}

// Evaluate processes one observation against every enabled rule on its
// metric and returns the events it produced, in rule creation order.
//
// A non-finite value or empty metric is rejected with
// InvalidObservationError before any state is touched. An observation at
// or before the metric's watermark is silently dropped, so replays and
// duplicate deliveries are no-ops. Equality with a threshold never counts
// as crossed, for either comparator.
func (e *Evaluator) Evaluate(obs Observation) ([]Event, error) {
	if obs.Metric == "" || !isFinite(obs.Value) {
		return nil, &InvalidObservationError{Metric: obs.Metric, Value: obs.Value}
	}

	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	if last, ok := e.lastSeen[obs.Metric]; ok && !obs.At.After(last) {
		return nil, nil
	}
	e.lastSeen[obs.Metric] = obs.At

	var events []Event
	for _, r := range e.store.rules {
		if r.Metric != obs.Metric || !r.Enabled {
			continue
		}

		crossed := (r.Comparator == Above && obs.Value > r.Threshold) ||
			(r.Comparator == Below && obs.Value < r.Threshold)

		switch {
		case crossed && r.State == Armed:
			r.State = Triggered
			events = append(events, Event{
				RuleID:     r.ID,
				Metric:     r.Metric,
				Value:      obs.Value,
				Threshold:  r.Threshold,
				Comparator: r.Comparator,
				Direction:  r.Comparator.Direction(),
				At:         obs.At,
			})
		case !crossed && r.State == Triggered:
			// Recovery re-arms silently: coming back under the
			// threshold is not itself an alert.
			r.State = Armed
		}
	}
	return events, nil
}

// LastSeen returns the watermark for a metric and whether the metric has
// been observed at all.
func (e *Evaluator) LastSeen(metric string) (time.Time, bool) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	at, ok := e.lastSeen[metric]
	return at, ok
}

// RestoreLastSeen seeds a metric's watermark from persisted state.
// Call at startup, before the first Evaluate.
func (e *Evaluator) RestoreLastSeen(metric string, at time.Time) {
	if metric == "" || at.IsZero() {
		return
	}
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	if at.After(e.lastSeen[metric]) {
		e.lastSeen[metric] = at
	}
}
