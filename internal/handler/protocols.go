package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chainpulse/defi-monitor/internal/monitor/sources"
)

// ProtocolSearcher finds DeFi protocols by name or symbol.
type ProtocolSearcher interface {
	SearchProtocols(ctx context.Context, query string) ([]sources.ProtocolInfo, error)
}

func SearchProtocols(src ProtocolSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, `{"error":"q required"}`, http.StatusBadRequest)
			return
		}

		protocols, err := src.SearchProtocols(r.Context(), q)
		if err != nil {
			http.Error(w, `{"error":"protocol search failed"}`, http.StatusBadGateway)
			return
		}
		if protocols == nil {
			protocols = []sources.ProtocolInfo{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(protocols)
	}
}
