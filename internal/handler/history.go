package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 720
	historyRowLimit     = 1000
)

// HistoryStore reads stored metric observations.
type HistoryStore interface {
	MetricHistory(ctx context.Context, metric string, since time.Time, limit int) ([]alert.Observation, error)
}

func History(db HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metric := r.URL.Query().Get("metric")
		if metric == "" {
			http.Error(w, `{"error":"metric required"}`, http.StatusBadRequest)
			return
		}

		hours := defaultHistoryHours
		if v := r.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, `{"error":"invalid hours"}`, http.StatusBadRequest)
				return
			}
			hours = n
		}
		if hours > maxHistoryHours {
			hours = maxHistoryHours
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		obs, err := db.MetricHistory(r.Context(), metric, since, historyRowLimit)
		if err != nil {
			http.Error(w, `{"error":"failed to load history"}`, http.StatusInternalServerError)
			return
		}
		if obs == nil {
			obs = []alert.Observation{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(obs)
	}
}
