package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/chainpulse/defi-monitor/internal/monitor"
)

func Stats(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")

		if source != "" {
			snap := engine.GetSnapshot(source)
			if snap == nil {
				http.Error(w, `{"error":"no data available yet"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
			return
		}

		snaps := engine.Snapshots()
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Source < snaps[j].Source })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snaps)
	}
}

func StatsMetadata(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := engine.SourceNames()
		sort.Strings(names)

		meta := map[string]any{
			"sources":       names,
			"poll_interval": fmt.Sprintf("%ds", int(engine.PollInterval().Seconds())),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	}
}
