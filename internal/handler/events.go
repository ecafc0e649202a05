package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

const maxEventLimit = 500

// EventStore reads persisted crossing events.
type EventStore interface {
	ListEvents(ctx context.Context, metric string, limit int) ([]alert.Event, error)
}

func ListEvents(db EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metric := r.URL.Query().Get("metric")

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}
		if limit > maxEventLimit {
			limit = maxEventLimit
		}

		events, err := db.ListEvents(r.Context(), metric, limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list events"}`, http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []alert.Event{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	}
}
