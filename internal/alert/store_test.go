package alert

import (
	"errors"
	"math"
	"testing"
)

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name      string
		metric    string
		cmp       Comparator
		threshold float64
	}{
		{"empty metric", "", Above, 100},
		{"unknown comparator", "ETH", Comparator("between"), 100},
		{"NaN threshold", "ETH", Above, math.NaN()},
		{"+Inf threshold", "ETH", Above, math.Inf(1)},
		{"-Inf threshold", "ETH", Below, math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			_, err := s.Create(tt.metric, tt.cmp, tt.threshold)
			var ire *InvalidRuleError
			if !errors.As(err, &ire) {
				t.Fatalf("Create(%q, %q, %v) error = %v, want InvalidRuleError",
					tt.metric, tt.cmp, tt.threshold, err)
			}
			if s.Len() != 0 {
				t.Errorf("store holds %d rules after rejected create, want 0", s.Len())
			}
		})
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	s := NewStore()
	r1, err := s.Create("ETH", Above, 3000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r2, err := s.Create("aave-v3:tvl", Below, 4e9)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if r1.ID == r2.ID {
		t.Errorf("both rules got ID %d", r1.ID)
	}
	if r2.ID <= r1.ID {
		t.Errorf("IDs not increasing: first %d, second %d", r1.ID, r2.ID)
	}
	if r1.State != Armed || r2.State != Armed {
		t.Errorf("new rules state = %q/%q, want %q", r1.State, r2.State, Armed)
	}
	if !r1.Enabled || !r2.Enabled {
		t.Error("new rules should start enabled")
	}
}

func TestListCreationOrderAndFilter(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "ETH", Above, 3000)
	mustCreate(t, s, "BTC", Below, 60000)
	mustCreate(t, s, "ETH", Below, 2000)

	all := s.List("")
	if len(all) != 3 {
		t.Fatalf("List(\"\") returned %d rules, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Errorf("List out of creation order: %d before %d", all[i-1].ID, all[i].ID)
		}
	}

	eth := s.List("ETH")
	if len(eth) != 2 {
		t.Fatalf("List(ETH) returned %d rules, want 2", len(eth))
	}
	if eth[0].Comparator != Above || eth[1].Comparator != Below {
		t.Errorf("List(ETH) order = %q, %q, want above, below", eth[0].Comparator, eth[1].Comparator)
	}

	if got := s.List("DOGE"); len(got) != 0 {
		t.Errorf("List(DOGE) returned %d rules, want 0", len(got))
	}
}

func TestUpdateThresholdResetsState(t *testing.T) {
	s := NewStore()
	ev := NewEvaluator(s)
	r := mustCreate(t, s, "ETH", Above, 3000)

	// Drive the rule into Triggered through the evaluator.
	mustEvaluate(t, ev, obs("ETH", 3100, 1))
	if got, _ := s.Get(r.ID); got.State != Triggered {
		t.Fatalf("state = %q, want %q", got.State, Triggered)
	}

	updated, err := s.UpdateThreshold(r.ID, 3500)
	if err != nil {
		t.Fatalf("UpdateThreshold: %v", err)
	}
	if updated.Threshold != 3500 {
		t.Errorf("threshold = %v, want 3500", updated.Threshold)
	}
	if updated.State != Armed {
		t.Errorf("state after update = %q, want %q", updated.State, Armed)
	}
}

func TestUpdateThresholdErrors(t *testing.T) {
	s := NewStore()
	r := mustCreate(t, s, "ETH", Above, 3000)

	var nf *NotFoundError
	if _, err := s.UpdateThreshold(999, 100); !errors.As(err, &nf) {
		t.Errorf("UpdateThreshold(999) error = %v, want NotFoundError", err)
	}

	var ire *InvalidRuleError
	if _, err := s.UpdateThreshold(r.ID, math.NaN()); !errors.As(err, &ire) {
		t.Errorf("UpdateThreshold(NaN) error = %v, want InvalidRuleError", err)
	}
	if got, _ := s.Get(r.ID); got.Threshold != 3000 {
		t.Errorf("threshold changed to %v after rejected update, want 3000", got.Threshold)
	}
}

func TestDeleteTwiceFails(t *testing.T) {
	s := NewStore()
	r := mustCreate(t, s, "ETH", Above, 3000)

	if err := s.Delete(r.ID); err != nil {
		t.Fatalf("first Delete: %v", err)
	}

	var nf *NotFoundError
	if err := s.Delete(r.ID); !errors.As(err, &nf) {
		t.Errorf("second Delete error = %v, want NotFoundError", err)
	}
	if err := s.Delete(12345); !errors.As(err, &nf) {
		t.Errorf("Delete(unknown) error = %v, want NotFoundError", err)
	}
}

func TestDeleteKeepsOrder(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "A", Above, 1)
	b := mustCreate(t, s, "B", Above, 2)
	mustCreate(t, s, "C", Above, 3)

	if err := s.Delete(b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got := s.List("")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Metric != "A" || got[1].Metric != "C" {
		t.Errorf("order after delete = %s, %s, want A, C", got[0].Metric, got[1].Metric)
	}
}

func TestSetEnabledPreservesState(t *testing.T) {
	s := NewStore()
	ev := NewEvaluator(s)
	r := mustCreate(t, s, "ETH", Above, 3000)
	mustEvaluate(t, ev, obs("ETH", 3100, 1))

	off, err := s.SetEnabled(r.ID, false)
	if err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	if off.Enabled {
		t.Error("rule still enabled")
	}
	if off.State != Triggered {
		t.Errorf("state after disable = %q, want %q", off.State, Triggered)
	}

	on, err := s.SetEnabled(r.ID, true)
	if err != nil {
		t.Fatalf("SetEnabled(true): %v", err)
	}
	if on.State != Triggered {
		t.Errorf("state after re-enable = %q, want %q", on.State, Triggered)
	}

	var nf *NotFoundError
	if _, err := s.SetEnabled(999, true); !errors.As(err, &nf) {
		t.Errorf("SetEnabled(999) error = %v, want NotFoundError", err)
	}
}

func TestLoadRestoresIDsAndOrder(t *testing.T) {
	s := NewStore()
	saved := []Rule{
		{ID: 3, Metric: "ETH", Comparator: Above, Threshold: 3000, Enabled: true, State: Armed},
		{ID: 7, Metric: "BTC", Comparator: Below, Threshold: 60000, Enabled: false, State: Triggered},
	}
	s.Load(saved)

	got := s.List("")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 7 {
		t.Errorf("IDs = %d, %d, want 3, 7", got[0].ID, got[1].ID)
	}
	if got[1].State != Triggered {
		t.Errorf("loaded state = %q, want %q", got[1].State, Triggered)
	}

	// New rules must not collide with loaded IDs.
	r, err := s.Create("LDO", Above, 2)
	if err != nil {
		t.Fatalf("Create after Load: %v", err)
	}
	if r.ID <= 7 {
		t.Errorf("Create after Load assigned ID %d, want > 7", r.ID)
	}
}

func TestRestoreState(t *testing.T) {
	s := NewStore()
	r := mustCreate(t, s, "ETH", Above, 3000)

	s.RestoreState(r.ID, Triggered)
	if got, _ := s.Get(r.ID); got.State != Triggered {
		t.Errorf("state = %q, want %q", got.State, Triggered)
	}

	// Unknown IDs and garbage states are ignored.
	s.RestoreState(999, Armed)
	s.RestoreState(r.ID, State("melted"))
	if got, _ := s.Get(r.ID); got.State != Triggered {
		t.Errorf("state = %q after bad RestoreState, want %q", got.State, Triggered)
	}
}

func mustCreate(t *testing.T, s *Store, metric string, cmp Comparator, threshold float64) Rule {
	t.Helper()
	r, err := s.Create(metric, cmp, threshold)
	if err != nil {
		t.Fatalf("Create(%q, %q, %v): %v", metric, cmp, threshold, err)
	}
	return r
}
