package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hermes/internal/backtest"
	"hermes/internal/config"
	"hermes/internal/market"
	"hermes/internal/scanner"
	"hermes/internal/sink"
	"hermes/internal/strategy"
	"hermes/pkg/types"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler wires the full stack on a temp-dir sink with one seeded
// symbol and returns the routed HTTP handler.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	s, err := sink.NewLocalSink(t.TempDir(), discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	start := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	candles := make([]types.Candle, 120)
	for i := range candles {
		// A dip then a recovery so a short SMA crossover trades.
		c := 100 + float64((i%40)-20)*0.5
		candles[i] = types.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c + 1, Low: c - 1, Close: c, Volume: 500,
		}
	}
	if _, err := s.Write(t.Context(), "INFY", candles); err != nil {
		t.Fatal(err)
	}

	marketSvc := market.NewService(s, nil, nil, discard())
	strategies := strategy.NewRegistry()
	backtestSvc := backtest.NewService(marketSvc, strategies, discard())
	scanSvc := scanner.New(backtestSvc, marketSvc, nil, 2, discard())
	hub := NewHub(discard())
	handlers := NewHandlers(marketSvc, backtestSvc, strategies, scanSvc, hub, discard())

	srv := NewServer(config.ServerConfig{Port: 8000, AllowedOrigins: []string{"*"}}, handlers, hub, discard())
	return srv.server.Handler
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	parsed := map[string]json.RawMessage{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("bad JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || string(body["status"]) != `"ok"` {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestInstruments(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	rec, body := doJSON(t, h, http.MethodGet, "/api/instruments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var symbols []string
	if err := json.Unmarshal(body["symbols"], &symbols); err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 1 || symbols[0] != "INFY" {
		t.Errorf("symbols = %v, want [INFY]", symbols)
	}
}

func TestDataEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec, body := doJSON(t, h, http.MethodGet, "/api/data/INFY?timeframe=1h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var candles []types.CandlePoint
	if err := json.Unmarshal(body["candles"], &candles); err != nil {
		t.Fatal(err)
	}
	if len(candles) != 3 { // 09:15 through 11:14 spans three hour buckets
		t.Errorf("candles = %d, want 3 hourly bars", len(candles))
	}

	if rec, _ := doJSON(t, h, http.MethodGet, "/api/data/NOPE", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", rec.Code)
	}
	if rec, _ := doJSON(t, h, http.MethodGet, "/api/data/INFY?timeframe=weekly", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad timeframe status = %d, want 400", rec.Code)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	rec, body := doJSON(t, h, http.MethodGet, "/api/strategies", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []struct {
		Name          string             `json:"name"`
		DefaultParams map[string]float64 `json:"default_params"`
	}
	if err := json.Unmarshal(body["strategies"], &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 5 {
		t.Fatalf("strategies = %d, want 5", len(list))
	}
	for _, s := range list {
		if len(s.DefaultParams) == 0 {
			t.Errorf("strategy %s has no default params", s.Name)
		}
	}
}

func TestBacktestEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	req := types.BacktestRequest{
		Symbol:    "INFY",
		Strategy:  "SMACrossover",
		Params:    map[string]float64{"fast_period": 2, "slow_period": 5},
		Timeframe: "1m",
	}
	rec, _ := doJSON(t, h, http.MethodPost, "/api/backtest", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Metrics["Total Return"] == "" {
		t.Errorf("response = %+v, want success with metrics", resp)
	}

	req.Strategy = "Momentum"
	if rec, _ := doJSON(t, h, http.MethodPost, "/api/backtest", req); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown strategy status = %d, want 400", rec.Code)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/backtest", strings.NewReader("{not json"))
	badRec := httptest.NewRecorder()
	h.ServeHTTP(badRec, bad)
	if badRec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", badRec.Code)
	}
}

func TestScanEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	req := types.ScanRequest{
		Strategy:  "SMACrossover",
		Params:    map[string]float64{"fast_period": 2, "slow_period": 5},
		Symbols:   []string{"INFY"},
		Timeframe: "1m",
	}
	rec, _ := doJSON(t, h, http.MethodPost, "/api/scan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalSymbols != 1 || resp.Completed != 1 || resp.Failed != 0 {
		t.Errorf("scan totals = %+v", resp)
	}

	if rec, _ := doJSON(t, h, http.MethodPost, "/api/scan", types.ScanRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty scan status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/backtest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow-origin = %q, want *", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
