// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the service — candles and
// instruments, backtest requests and responses, scanner models, and the
// enums they share. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order styles in the event engine.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET" // fill at the simulated market price
	OrderTypeLimit  OrderType = "LIMIT"  // fill only if the bar's range reaches the limit
)

// SignalDirection is the intent a strategy expresses about a position.
type SignalDirection string

const (
	SignalLong  SignalDirection = "LONG"  // open or hold a long position
	SignalShort SignalDirection = "SHORT" // open a short position
	SignalExit  SignalDirection = "EXIT"  // close whatever is open
)

// SizingMethod selects how the portfolio converts a signal into a quantity.
type SizingMethod string

const (
	SizingFixed     SizingMethod = "fixed"      // constant quantity per trade
	SizingPctEquity SizingMethod = "pct_equity" // risk a fraction of current equity
	SizingATRBased  SizingMethod = "atr_based"  // fraction of equity scaled by stop distance
)

// BacktestMode selects the execution model for a backtest run.
type BacktestMode string

const (
	ModeVector BacktestMode = "vector" // closed-form position/return arithmetic
	ModeEvent  BacktestMode = "event"  // bar-by-bar event loop with fills and cash
)

// Timeframe is a bar interval such as "1m", "15m", "1h" or "1d".
// The zero value is invalid; use ParseTimeframe to validate input.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	"3m":  3 * time.Minute,
	TF5m:  5 * time.Minute,
	"10m": 10 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	"2h":  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// ParseTimeframe validates a bar interval string and returns its bucket width.
func ParseTimeframe(s string) (Timeframe, time.Duration, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	d, ok := timeframeDurations[tf]
	if !ok {
		return "", 0, fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, d, nil
}

// Duration returns the bucket width for the timeframe, or zero when invalid.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Candle is one OHLCV bar at minute (or resampled) resolution.
// Timestamps are exchange-local wall clock stored without a zone; all
// comparisons treat them as UTC.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	OI        float64 // open interest, zero for instruments without one
}

// Instrument is one tradable listing from the exchange instrument dump.
type Instrument struct {
	Token    int64  // exchange instrument token used by the history API
	Symbol   string // trading symbol, upper case
	Name     string // display name, may be empty
	Exchange string // exchange code, e.g. "NSE"
	Type     string // instrument type, e.g. "EQ"
}

// ————————————————————————————————————————————————————————————————————————
// Risk parameters
// ————————————————————————————————————————————————————————————————————————

// RiskParams controls position sizing and protective exits in event mode.
type RiskParams struct {
	SizingMethod   SizingMethod `json:"sizing_method"`    // fixed | pct_equity | atr_based
	FixedQuantity  float64      `json:"fixed_quantity"`   // units per trade for fixed sizing
	PctEquity      float64      `json:"pct_equity"`       // fraction of equity risked per trade
	ATRMultiplier  float64      `json:"atr_multiplier"`   // reserved for volatility-scaled stops
	MaxPositionPct float64      `json:"max_position_pct"` // cap on single-position exposure
	StopLossPct    float64      `json:"stop_loss_pct"`    // protective exit threshold
}

// DefaultRiskParams returns the standard sizing configuration.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		SizingMethod:   SizingFixed,
		FixedQuantity:  10.0,
		PctEquity:      0.02,
		ATRMultiplier:  1.5,
		MaxPositionPct: 0.25,
		StopLossPct:    0.05,
	}
}

// Normalize fills zero-valued fields with their defaults. JSON requests may
// omit any subset of the risk parameters.
func (r *RiskParams) Normalize() {
	def := DefaultRiskParams()
	if r.SizingMethod == "" {
		r.SizingMethod = def.SizingMethod
	}
	if r.FixedQuantity == 0 {
		r.FixedQuantity = def.FixedQuantity
	}
	if r.PctEquity == 0 {
		r.PctEquity = def.PctEquity
	}
	if r.ATRMultiplier == 0 {
		r.ATRMultiplier = def.ATRMultiplier
	}
	if r.MaxPositionPct == 0 {
		r.MaxPositionPct = def.MaxPositionPct
	}
	if r.StopLossPct == 0 {
		r.StopLossPct = def.StopLossPct
	}
}

// ————————————————————————————————————————————————————————————————————————
// Backtest API models
// ————————————————————————————————————————————————————————————————————————

// BacktestRequest is the request body for POST /api/backtest.
type BacktestRequest struct {
	Symbol      string             `json:"symbol"`
	Strategy    string             `json:"strategy"` // e.g. "SMACrossover"
	Params      map[string]float64 `json:"params"`
	InitialCash float64            `json:"initial_cash"` // default 100000
	Mode        BacktestMode       `json:"mode"`         // vector | event
	Slippage    float64            `json:"slippage"`     // fraction, 0.01 = 1%
	Commission  float64            `json:"commission"`   // per unit, in currency
	StartDate   string             `json:"start_date,omitempty"` // "YYYY-MM-DD"
	EndDate     string             `json:"end_date,omitempty"`   // "YYYY-MM-DD"
	Timeframe   string             `json:"timeframe"`            // analysis interval, default "1h"
	RiskParams  RiskParams         `json:"risk_params"`
}

// Normalize applies request defaults in place.
func (r *BacktestRequest) Normalize() {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Params == nil {
		r.Params = map[string]float64{}
	}
	if r.InitialCash == 0 {
		r.InitialCash = 100000.0
	}
	if r.Mode == "" {
		r.Mode = ModeVector
	}
	if r.Timeframe == "" {
		r.Timeframe = string(TF1h)
	}
	r.RiskParams.Normalize()
}

// Validate reports the first problem that makes the request unservable.
func (r *BacktestRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if r.Mode != ModeVector && r.Mode != ModeEvent {
		return fmt.Errorf("unsupported mode %q", r.Mode)
	}
	if r.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive")
	}
	if _, _, err := ParseTimeframe(r.Timeframe); err != nil {
		return err
	}
	return nil
}

// ChartPoint is one point of a time series chart, e.g. the equity curve.
type ChartPoint struct {
	Time  int64   `json:"time"` // unix seconds
	Value float64 `json:"value"`
}

// SignalPoint marks an entry or exit on the price chart.
type SignalPoint struct {
	Time  int64   `json:"time"` // unix seconds
	Type  string  `json:"type"` // "buy" or "sell"
	Price float64 `json:"price"`
}

// CandlePoint is one OHLCV bar shaped for charting.
type CandlePoint struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IndicatorPoint is one point of a named indicator series overlay.
type IndicatorPoint struct {
	Time  int64   `json:"time"` // unix seconds
	Value float64 `json:"value"`
}

// BacktestResponse is the response body for POST /api/backtest.
type BacktestResponse struct {
	Symbol      string                      `json:"symbol"`
	Strategy    string                      `json:"strategy"`
	Metrics     map[string]string           `json:"metrics"`
	EquityCurve []ChartPoint                `json:"equity_curve"`
	Signals     []SignalPoint               `json:"signals"`
	Candles     []CandlePoint               `json:"candles"`
	Indicators  map[string][]IndicatorPoint `json:"indicators"`
	Status      string                      `json:"status"` // "success" on completion
	Error       string                      `json:"error,omitempty"`
	TaskID      string                      `json:"task_id,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Scanner API models
// ————————————————————————————————————————————————————————————————————————

// ScanRequest is the request body for POST /api/scan. An empty symbol list
// means "scan everything the store knows about".
type ScanRequest struct {
	Strategy       string             `json:"strategy"`
	Params         map[string]float64 `json:"params"`
	Symbols        []string           `json:"symbols,omitempty"`
	InitialCash    float64            `json:"initial_cash"`
	Mode           BacktestMode       `json:"mode"`
	StartDate      string             `json:"start_date,omitempty"`
	EndDate        string             `json:"end_date,omitempty"`
	Timeframe      string             `json:"timeframe"`
	MaxConcurrency int                `json:"max_concurrency"`
}

// Normalize applies request defaults in place.
func (r *ScanRequest) Normalize() {
	if r.Params == nil {
		r.Params = map[string]float64{}
	}
	if r.InitialCash == 0 {
		r.InitialCash = 100000.0
	}
	if r.Mode == "" {
		r.Mode = ModeVector
	}
	if r.Timeframe == "" {
		r.Timeframe = string(TF1h)
	}
	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = 10
	}
}

// Validate reports the first problem that makes the request unservable.
func (r *ScanRequest) Validate() error {
	if r.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if r.Mode != ModeVector && r.Mode != ModeEvent {
		return fmt.Errorf("unsupported mode %q", r.Mode)
	}
	if _, _, err := ParseTimeframe(r.Timeframe); err != nil {
		return err
	}
	return nil
}

// ScanResult is the outcome of running one symbol through the scanner.
type ScanResult struct {
	Symbol         string            `json:"symbol"`
	Metrics        map[string]string `json:"metrics,omitempty"`
	SignalCount    int               `json:"signal_count"`
	LastSignal     string            `json:"last_signal,omitempty"`      // "buy" or "sell"
	LastSignalTime int64             `json:"last_signal_time,omitempty"` // unix seconds
	Status         string            `json:"status"`                     // "success", "error" or "cached"
	Error          string            `json:"error,omitempty"`
	Cached         bool              `json:"cached"`
}

// ScanResponse is the response body for POST /api/scan.
type ScanResponse struct {
	Strategy     string       `json:"strategy"`
	TotalSymbols int          `json:"total_symbols"`
	Completed    int          `json:"completed"`
	Failed       int          `json:"failed"`
	CachedCount  int          `json:"cached_count"`
	FreshCount   int          `json:"fresh_count"`
	Results      []ScanResult `json:"results"`
	ElapsedMs    int64        `json:"elapsed_ms"`
}
