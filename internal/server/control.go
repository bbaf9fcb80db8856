package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// TradeHistory reads recent trades from the journal.
type TradeHistory interface {
	Recent(ctx context.Context, limit int) ([]domain.Trade, error)
}

type controlHandler struct {
	ctrl    Controller
	history TradeHistory
	logger  *slog.Logger
}

// GET /api/health
func (h *controlHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type startRequest struct {
	Strategies []string `json:"strategies"`
}

// POST /hft/start
func (h *controlHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.ctrl.Start(r.Context(), req.Strategies)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrUnknownStrategy):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /hft/stop
func (h *controlHandler) stop(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Stop(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /hft/status
func (h *controlHandler) status(w http.ResponseWriter, r *http.Request) {
	m := h.ctrl.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          m.Running,
		"connection_state": m.ConnectionState,
		"uptime_seconds":   m.UptimeSeconds,
		"open_positions":   m.OpenPositions,
		"symbols":          m.Symbols,
		"strategies":       m.Strategies,
	})
}

// GET /hft/metrics
func (h *controlHandler) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Metrics())
}

// POST /hft/reset-daily
func (h *controlHandler) resetDaily(w http.ResponseWriter, r *http.Request) {
	h.ctrl.ResetDaily()
	h.logger.Info("server: daily risk counters reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// GET /hft/trades
func (h *controlHandler) trades(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "trade journal not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	trades, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
