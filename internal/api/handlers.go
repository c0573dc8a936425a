package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/backtest"
	"hermes/internal/market"
	"hermes/internal/scanner"
	"hermes/internal/strategy"
	"hermes/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer; the stream itself
		// is read-only.
		return true
	},
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	market     *market.Service
	backtest   *backtest.Service
	strategies *strategy.Registry
	scanner    *scanner.Scanner
	hub        *Hub
	logger     *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(m *market.Service, b *backtest.Service, s *strategy.Registry, sc *scanner.Scanner, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		market:     m,
		backtest:   b,
		strategies: s,
		scanner:    sc,
		hub:        hub,
		logger:     logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleInstruments lists every symbol with stored data.
func (h *Handlers) HandleInstruments(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.market.ListInstruments(r.Context())
	if err != nil {
		h.logger.Error("list instruments failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// HandleData serves one symbol's candles resampled to the requested
// timeframe. Query params: timeframe (default 1h), start, end.
func (h *Handlers) HandleData(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}

	f, err := h.market.LoadAndResample(r.Context(), symbol,
		timeframe, r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		if errors.Is(err, market.ErrNoData) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	candles := make([]types.CandlePoint, f.Len())
	for i := 0; i < f.Len(); i++ {
		candles[i] = types.CandlePoint{
			Time: f.Timestamps[i].Unix(), Open: f.Open[i], High: f.High[i],
			Low: f.Low[i], Close: f.Close[i], Volume: f.Volume[i],
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   candles,
	})
}

// HandleStrategies lists the registered strategies and their defaults.
func (h *Handlers) HandleStrategies(w http.ResponseWriter, r *http.Request) {
	defaults := h.strategies.DefaultParams()
	out := make([]map[string]any, 0, len(defaults))
	for _, name := range h.strategies.Names() {
		out = append(out, map[string]any{
			"name":           name,
			"default_params": defaults[name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}

// HandleBacktest runs one backtest synchronously.
func (h *Handlers) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	var req types.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	began := time.Now()
	resp, err := h.backtest.Run(r.Context(), req)
	metricBacktestDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		if errors.Is(err, backtest.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("backtest failed",
			"symbol", req.Symbol, "strategy", req.Strategy, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.hub.Broadcast("backtest_complete", map[string]any{
		"symbol":   resp.Symbol,
		"strategy": resp.Strategy,
		"task_id":  resp.TaskID,
	})
	writeJSON(w, http.StatusOK, resp)
}

// HandleScan runs one multi-symbol scan synchronously.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	began := time.Now()
	resp, err := h.scanner.Run(r.Context(), req)
	metricScanDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		h.logger.Error("scan failed", "strategy", req.Strategy, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.hub.Broadcast("scan_complete", map[string]any{
		"strategy":  resp.Strategy,
		"completed": resp.Completed,
		"failed":    resp.Failed,
		"cached":    resp.CachedCount,
	})
	writeJSON(w, http.StatusOK, resp)
}

// HandleWebSocket upgrades the connection and registers the client with
// the hub.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}
