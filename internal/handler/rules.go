package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

// RuleStore persists rule definitions across restarts.
type RuleStore interface {
	SaveRule(ctx context.Context, r alert.Rule) error
	DeleteRule(ctx context.Context, id int64) error
}

// StateMirror keeps the external evaluator-state mirror in step with rule
// mutations. A nil mirror disables mirroring.
type StateMirror interface {
	SaveRuleState(ctx context.Context, id int64, st alert.State)
	DeleteRuleState(ctx context.Context, id int64)
}

func ListRules(rules *alert.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := rules.List(r.URL.Query().Get("metric"))
		if out == nil {
			out = []alert.Rule{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func CreateRule(rules *alert.Store, db RuleStore, mirror StateMirror, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		Metric     string  `json:"metric"`
		Comparator string  `json:"comparator"`
		Threshold  float64 `json:"threshold"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		rule, err := rules.Create(req.Metric, alert.Comparator(req.Comparator), req.Threshold)
		if err != nil {
			writeAlertError(w, err)
			return
		}

		if err := db.SaveRule(r.Context(), rule); err != nil {
			// Keep memory and database consistent: drop the rule again.
			_ = rules.Delete(rule.ID)
			logger.Error("persist rule failed", "rule_id", rule.ID, "error", err)
			http.Error(w, `{"error":"failed to persist rule"}`, http.StatusInternalServerError)
			return
		}
		if mirror != nil {
			mirror.SaveRuleState(r.Context(), rule.ID, rule.State)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rule)
	}
}

func UpdateRule(rules *alert.Store, db RuleStore, mirror StateMirror, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		Threshold float64 `json:"threshold"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ruleID(r)
		if err != nil {
			http.Error(w, `{"error":"invalid rule id"}`, http.StatusBadRequest)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		rule, err := rules.UpdateThreshold(id, req.Threshold)
		if err != nil {
			writeAlertError(w, err)
			return
		}

		if err := db.SaveRule(r.Context(), rule); err != nil {
			logger.Error("persist rule failed", "rule_id", rule.ID, "error", err)
			http.Error(w, `{"error":"failed to persist rule"}`, http.StatusInternalServerError)
			return
		}
		if mirror != nil {
			mirror.SaveRuleState(r.Context(), rule.ID, rule.State)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rule)
	}
}

func SetRuleEnabled(rules *alert.Store, db RuleStore, mirror StateMirror, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		Enabled bool `json:"enabled"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ruleID(r)
		if err != nil {
			http.Error(w, `{"error":"invalid rule id"}`, http.StatusBadRequest)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		rule, err := rules.SetEnabled(id, req.Enabled)
		if err != nil {
			writeAlertError(w, err)
			return
		}

		if err := db.SaveRule(r.Context(), rule); err != nil {
			logger.Error("persist rule failed", "rule_id", rule.ID, "error", err)
			http.Error(w, `{"error":"failed to persist rule"}`, http.StatusInternalServerError)
			return
		}
		if mirror != nil {
			mirror.SaveRuleState(r.Context(), rule.ID, rule.State)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rule)
	}
}

func DeleteRule(rules *alert.Store, db RuleStore, mirror StateMirror, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ruleID(r)
		if err != nil {
			http.Error(w, `{"error":"invalid rule id"}`, http.StatusBadRequest)
			return
		}

		if _, ok := rules.Get(id); !ok {
			writeAlertError(w, &alert.NotFoundError{ID: id})
			return
		}

		// Database first so a failed delete cannot resurrect on restart.
		if err := db.DeleteRule(r.Context(), id); err != nil {
			logger.Error("delete rule failed", "rule_id", id, "error", err)
			http.Error(w, `{"error":"failed to delete rule"}`, http.StatusInternalServerError)
			return
		}
		if err := rules.Delete(id); err != nil {
			writeAlertError(w, err)
			return
		}
		if mirror != nil {
			mirror.DeleteRuleState(r.Context(), id)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func ruleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeAlertError(w http.ResponseWriter, err error) {
	var invalidRule *alert.InvalidRuleError
	var notFound *alert.NotFoundError
	switch {
	case errors.As(err, &invalidRule):
		http.Error(w, fmt.Sprintf(`{"error":%q}`, invalidRule.Error()), http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, fmt.Sprintf(`{"error":%q}`, notFound.Error()), http.StatusNotFound)
	default:
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
