package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chainpulse/defi-monitor/internal/monitor"
)

type fakeSink struct {
	mu    sync.Mutex
	snaps []*monitor.Snapshot
}

func (f *fakeSink) Offer(_ context.Context, snap *monitor.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
}

func (f *fakeSink) all() []*monitor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*monitor.Snapshot(nil), f.snaps...)
}

func TestNewPairMapping(t *testing.T) {
	c := New(&fakeSink{}, slog.Default(), []string{"eth", "BTC", "USDT", "USDC", ""})

	want := map[string]string{
		"ETHUSDT": "ETH:spot",
		"BTCUSDT": "BTC:spot",
	}
	if len(c.pairs) != len(want) {
		t.Fatalf("pairs = %v, want %v", c.pairs, want)
	}
	for pair, metric := range want {
		if got := c.pairs[pair]; got != metric {
			t.Errorf("pairs[%q] = %q, want %q", pair, got, metric)
		}
	}
}

func TestHandleMessage(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH"})

	c.handleMessage([]byte(`{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"3100.50"}`))

	c.flush(context.Background())
	snaps := sink.all()
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.Source != "binance" {
		t.Errorf("source = %q, want binance", snap.Source)
	}
	if got := snap.Metrics["ETH:spot"]; got != 3100.50 {
		t.Errorf("ETH:spot = %v, want 3100.50", got)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestHandleMessageIgnoresJunk(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH"})

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"e":"trade","s":"ETHUSDT","c":"3100"}`))
	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"DOGEUSDT","c":"0.2"}`))
	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"garbage"}`))
	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"-5"}`))

	c.flush(context.Background())
	if snaps := sink.all(); len(snaps) != 0 {
		t.Fatalf("got %d snapshots, want none", len(snaps))
	}
}

func TestFlushSkipsWhenClean(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH"})

	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"3100"}`))
	c.flush(context.Background())
	c.flush(context.Background())

	if snaps := sink.all(); len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
}

func TestFlushCarriesFullPriceMap(t *testing.T) {
	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH", "BTC"})

	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"3100"}`))
	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"64000"}`))
	c.flush(context.Background())

	// Only ETH ticks again; the next snapshot still carries BTC.
	c.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"3150"}`))
	c.flush(context.Background())

	snaps := sink.all()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	last := snaps[1]
	if got := last.Metrics["ETH:spot"]; got != 3150 {
		t.Errorf("ETH:spot = %v, want 3150", got)
	}
	if got := last.Metrics["BTC:spot"]; got != 64000 {
		t.Errorf("BTC:spot = %v, want 64000", got)
	}
}

func TestSeed(t *testing.T) {
	prices := map[string]string{"ETHUSDT": "3050.25", "BTCUSDT": "63500.00"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		sym := r.URL.Query().Get("symbol")
		price, ok := prices[sym]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"price":%q}`, sym, price)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH", "BTC"})
	c.restBase = srv.URL

	c.seed(context.Background())

	snaps := sink.all()
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	snap := snaps[0]
	if got := snap.Metrics["ETH:spot"]; got != 3050.25 {
		t.Errorf("ETH:spot = %v, want 3050.25", got)
	}
	if got := snap.Metrics["BTC:spot"]; got != 63500.00 {
		t.Errorf("BTC:spot = %v, want 63500.00", got)
	}
}

func TestSeedToleratesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	c := New(sink, slog.Default(), []string{"ETH"})
	c.restBase = srv.URL

	c.seed(context.Background())

	if snaps := sink.all(); len(snaps) != 0 {
		t.Fatalf("got %d snapshots, want none", len(snaps))
	}
}
