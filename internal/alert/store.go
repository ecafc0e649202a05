package alert

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Store holds alert rules in creation order and owns their lifetime.
// All methods are safe for concurrent use. The evaluator shares the
// store's mutex and holds it for the span of one full evaluation pass,
// so rule mutations never interleave with an in-flight evaluation.
type Store struct {
	mu     sync.Mutex
	rules  []*Rule
	byID   map[int64]*Rule
	nextID int64
}

// NewStore returns an empty rule store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[int64]*Rule),
		nextID: 1,
	}
}

// Create validates and adds a new rule. New rules start Armed and enabled.
func (s *Store) Create(metric string, cmp Comparator, threshold float64) (Rule, error) {
	if metric == "" {
		return Rule{}, &InvalidRuleError{Reason: "metric must not be empty"}
	}
	if !cmp.Valid() {
		return Rule{}, &InvalidRuleError{Reason: fmt.Sprintf("unknown comparator %q", cmp)}
	}
	if !isFinite(threshold) {
		return Rule{}, &InvalidRuleError{Reason: fmt.Sprintf("threshold %v is not finite", threshold)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Rule{
		ID:         s.nextID,
		Metric:     metric,
		Comparator: cmp,
		Threshold:  threshold,
		Enabled:    true,
		State:      Armed,
		CreatedAt:  time.Now().UTC(),
	}
	s.nextID++
	s.rules = append(s.rules, r)
	s.byID[r.ID] = r
	return *r, nil
}

// UpdateThreshold replaces a rule's threshold and re-arms it: a changed
// threshold invalidates whatever trigger history the rule carried.
func (s *Store) UpdateThreshold(id int64, threshold float64) (Rule, error) {
	if !isFinite(threshold) {
		return Rule{}, &InvalidRuleError{Reason: fmt.Sprintf("threshold %v is not finite", threshold)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Rule{}, &NotFoundError{ID: id}
	}
	r.Threshold = threshold
	r.State = Armed
	return *r, nil
}

// Delete removes a rule. Deleting an unknown ID fails, including a second
// delete of the same ID: callers must treat delete as requiring existence.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(s.byID, id)
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			break
		}
	}
	return nil
}

// SetEnabled toggles a rule without touching its evaluation state: a
// Triggered rule that is disabled and later re-enabled stays silent
// until a recovery re-arms it.
func (s *Store) SetEnabled(id int64, enabled bool) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Rule{}, &NotFoundError{ID: id}
	}
	r.Enabled = enabled
	return *r, nil
}

// Get returns a copy of one rule.
func (s *Store) Get(id int64) (Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// List returns copies of all rules in creation order. A non-empty metric
// filters to that series.
func (s *Store) List(metric string) []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if metric != "" && r.Metric != metric {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// Load replaces the store's contents with previously persisted rules,
// keeping their IDs. Call once at startup before the evaluator runs.
func (s *Store) Load(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = s.rules[:0]
	s.byID = make(map[int64]*Rule, len(rules))
	s.nextID = 1
	for i := range rules {
		r := rules[i]
		s.rules = append(s.rules, &r)
		s.byID[r.ID] = &r
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
}

// RestoreState overwrites one rule's evaluation state. It exists so a
// persisted state mirror can rehydrate the store after a restart; it is
// not part of the regular mutation surface.
func (s *Store) RestoreState(id int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byID[id]; ok && (st == Armed || st == Triggered) {
		r.State = st
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
