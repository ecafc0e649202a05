package rulestate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

func setupTestMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	m, err := New("redis://"+mr.Addr(), "")
	if err != nil {
		mr.Close()
		t.Fatalf("New: %v", err)
	}
	return m, mr
}

func TestSaveAndLoadRuleStates(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer mr.Close()
	defer m.Close()

	ctx := context.Background()
	m.SaveRuleState(ctx, 1, alert.Armed)
	m.SaveRuleState(ctx, 2, alert.Triggered)
	m.SaveRuleState(ctx, 2, alert.Armed) // overwrite
	m.SaveRuleState(ctx, 7, alert.Triggered)

	states, _, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("loaded %d states, want 3", len(states))
	}
	if states[1] != alert.Armed {
		t.Errorf("rule 1 state = %q, want %q", states[1], alert.Armed)
	}
	if states[2] != alert.Armed {
		t.Errorf("rule 2 state = %q, want %q", states[2], alert.Armed)
	}
	if states[7] != alert.Triggered {
		t.Errorf("rule 7 state = %q, want %q", states[7], alert.Triggered)
	}
}

func TestDeleteRuleState(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer mr.Close()
	defer m.Close()

	ctx := context.Background()
	m.SaveRuleState(ctx, 3, alert.Triggered)
	m.DeleteRuleState(ctx, 3)

	states, _, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := states[3]; ok {
		t.Error("rule 3 state should be gone after DeleteRuleState")
	}
}

func TestSaveAndLoadLastSeen(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer mr.Close()
	defer m.Close()

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	m.SaveLastSeen(ctx, "ETH", at)
	m.SaveLastSeen(ctx, "aave-v3:tvl", at.Add(time.Minute))

	_, marks, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("loaded %d watermarks, want 2", len(marks))
	}
	if !marks["ETH"].Equal(at) {
		t.Errorf("ETH watermark = %v, want %v", marks["ETH"], at)
	}
	// Metric IDs with embedded colons round-trip through the key format.
	if !marks["aave-v3:tvl"].Equal(at.Add(time.Minute)) {
		t.Errorf("aave-v3:tvl watermark = %v, want %v", marks["aave-v3:tvl"], at.Add(time.Minute))
	}
}

func TestLoadSkipsGarbage(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer mr.Close()
	defer m.Close()

	ctx := context.Background()
	mr.Set("rule:notanumber:state", "armed")
	mr.Set("rule:9:state", "melted")
	mr.Set("metric:ETH:last_seen", "yesterday-ish")
	m.SaveRuleState(ctx, 1, alert.Armed)

	states, marks, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("loaded %d states, want 1 (garbage skipped)", len(states))
	}
	if len(marks) != 0 {
		t.Errorf("loaded %d watermarks, want 0 (garbage skipped)", len(marks))
	}
}

func TestLoadEmpty(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer mr.Close()
	defer m.Close()

	states, marks, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(states) != 0 || len(marks) != 0 {
		t.Errorf("fresh mirror returned %d states, %d watermarks", len(states), len(marks))
	}
}

func TestSaveBestEffortWhenDown(t *testing.T) {
	m, mr := setupTestMirror(t)
	defer m.Close()

	// Stop Redis to simulate an outage; writes must not panic.
	mr.Close()

	ctx := context.Background()
	m.SaveRuleState(ctx, 1, alert.Triggered)
	m.SaveLastSeen(ctx, "ETH", time.Now())
	m.DeleteRuleState(ctx, 1)

	if _, _, err := m.Load(ctx); err == nil {
		t.Error("Load should report an error when Redis is down")
	}
}
