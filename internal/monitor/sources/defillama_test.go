package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"github.com/chainpulse/defi-monitor/internal/config"
)

func newTestLlama(srv *httptest.Server, protocols []config.Protocol, chains []string) *DefiLlama {
	return &DefiLlama{
		baseURL:   srv.URL,
		client:    srv.Client(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    slog.Default(),
		protocols: protocols,
		chains:    chains,
	}
}

func TestDefiLlamaFetchSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/protocol/aave-v3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ProtocolStats{Name: "AAVE V3", Symbol: "AAVE", TVL: 5.2e9})
	})
	mux.HandleFunc("/yields", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"project":"aave-v3","pool":"a","apy":2.0},
			{"project":"aave-v3","pool":"b","apy":4.0},
			{"project":"lido","pool":"c","apy":3.1}
		]}`))
	})
	mux.HandleFunc("/v2/chains/ethereum", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tvl":52000000000}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestLlama(srv,
		[]config.Protocol{{Name: "Aave V3", Slug: "aave-v3"}},
		[]string{"ethereum"})

	snap, err := d.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot error: %v", err)
	}

	if snap.Source != "defillama" {
		t.Errorf("Source = %q, want %q", snap.Source, "defillama")
	}
	if got := snap.Metrics["aave-v3:tvl"]; got != 5.2e9 {
		t.Errorf("aave-v3:tvl = %v, want 5.2e9", got)
	}
	if got := snap.Metrics["aave-v3:apy"]; got != 3.0 {
		t.Errorf("aave-v3:apy = %v, want mean 3.0", got)
	}
	if got := snap.Metrics["chain:ethereum:tvl"]; got != 5.2e10 {
		t.Errorf("chain:ethereum:tvl = %v, want 5.2e10", got)
	}
	if _, ok := snap.Metrics["lido:apy"]; ok {
		t.Error("unwatched protocol lido leaked into metrics")
	}
}

func TestDefiLlamaFetchSnapshotPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/protocol/aave-v3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ProtocolStats{TVL: 5.2e9})
	})
	mux.HandleFunc("/protocol/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	mux.HandleFunc("/yields", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestLlama(srv, []config.Protocol{
		{Name: "Aave V3", Slug: "aave-v3"},
		{Name: "Broken", Slug: "broken"},
	}, nil)

	snap, err := d.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot should survive one failed protocol: %v", err)
	}
	if got := snap.Metrics["aave-v3:tvl"]; got != 5.2e9 {
		t.Errorf("aave-v3:tvl = %v, want 5.2e9", got)
	}
	if _, ok := snap.Metrics["broken:tvl"]; ok {
		t.Error("failed protocol produced a metric")
	}
}

func TestDefiLlamaFetchSnapshotAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestLlama(srv, []config.Protocol{{Name: "Aave V3", Slug: "aave-v3"}}, nil)
	if _, err := d.FetchSnapshot(context.Background()); err == nil {
		t.Error("expected error when every fetch fails, got nil")
	}
}

func TestDefiLlamaSearchProtocols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"name":"Aave V3","slug":"aave-v3","symbol":"AAVE","tvl":5200000000},
			{"name":"Lido","slug":"lido","symbol":"LDO","tvl":30000000000},
			{"name":"Aave V2","slug":"aave-v2","symbol":"AAVE","tvl":900000000}
		]`))
	}))
	defer srv.Close()

	d := newTestLlama(srv, nil, nil)

	matches, err := d.SearchProtocols(context.Background(), "aave")
	if err != nil {
		t.Fatalf("SearchProtocols error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}

	matches, err = d.SearchProtocols(context.Background(), "LDO")
	if err != nil {
		t.Fatalf("SearchProtocols error: %v", err)
	}
	if len(matches) != 1 || matches[0].Slug != "lido" {
		t.Errorf("symbol search = %+v, want lido", matches)
	}
}
