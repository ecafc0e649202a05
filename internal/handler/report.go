package handler

import (
	"net/http"

	"github.com/chainpulse/defi-monitor/internal/report"
)

func Report(builder *report.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		switch format {
		case "", "text", "html":
		default:
			http.Error(w, `{"error":"unknown format"}`, http.StatusBadRequest)
			return
		}

		rep, err := builder.Build(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to build report"}`, http.StatusInternalServerError)
			return
		}

		if format == "html" {
			html, err := rep.HTML()
			if err != nil {
				http.Error(w, `{"error":"failed to render report"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(html))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(rep.Text()))
	}
}
