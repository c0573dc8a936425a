package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"hermes/internal/frame"
	"hermes/pkg/types"
)

// ErrInvalidRequest marks failures caused by the request itself — unknown
// strategy or symbol, bad parameters — as opposed to engine faults. The API
// layer maps it to a 400.
var ErrInvalidRequest = errors.New("invalid request")

// DataLoader supplies the minute frame a backtest runs on. Implemented by
// the market data service.
type DataLoader interface {
	Load(ctx context.Context, symbols []string, startDate, endDate string) (*frame.Frame, error)
}

// Service runs backtests end to end: load data, resolve the strategy, run
// the selected engine and shape the chart payload.
type Service struct {
	data       DataLoader
	strategies StrategyFactory
	logger     *slog.Logger
}

func NewService(data DataLoader, strategies StrategyFactory, logger *slog.Logger) *Service {
	return &Service{
		data:       data,
		strategies: strategies,
		logger:     logger.With("component", "backtest"),
	}
}

// Strategies lists the available strategy names.
func (s *Service) Strategies() []string { return s.strategies.Names() }

// Run executes one backtest request. The request must be normalized and
// validated by the caller.
func (s *Service) Run(ctx context.Context, req types.BacktestRequest) (*types.BacktestResponse, error) {
	s.logger.Info("backtest starting",
		"symbol", req.Symbol, "strategy", req.Strategy, "mode", req.Mode)

	data, err := s.data.Load(ctx, []string{req.Symbol}, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: data load failed for %s: %v", ErrInvalidRequest, req.Symbol, err)
	}

	strat, err := s.strategies.Create(req.Strategy, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Mode == types.ModeEvent {
		return s.runEvent(req, data, strat)
	}
	return s.runVector(req, data, strat)
}

func (s *Service) runVector(req types.BacktestRequest, data *frame.Frame, strat Strategy) (*types.BacktestResponse, error) {
	tf, width, err := types.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// The strategy analyzes at the requested timeframe; execution stays at
	// minute resolution, with coarser signals broadcast without look-ahead.
	var execution *frame.Frame
	if tf != types.TF1m {
		execution, err = BroadcastSignals(data, strat, width)
	} else {
		execution, err = strat.GenerateSignals(data)
	}
	if err != nil {
		if errors.Is(err, ErrMissingSignal) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
	}

	engine := NewVectorEngine(req.InitialCash)
	result, err := engine.Run(execution)
	if err != nil {
		if errors.Is(err, ErrMissingSignal) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("backtest execution failed: %w", err)
	}

	equity, _ := result.Col("equity")
	metrics := CalculateMetrics(equity.Values, req.InitialCash, nil)

	resp := s.formatVectorResponse(req, metrics, result)
	resp.TaskID = uuid.NewString()
	return resp, nil
}

// Columns the chart response never reports as indicators.
var indicatorExclude = map[string]bool{
	"signal":          true,
	"position":        true,
	"strategy_return": true,
	"market_return":   true,
	"equity":          true,
	"trade_action":    true,
	"oi":              true,
}

func (s *Service) formatVectorResponse(req types.BacktestRequest, metrics map[string]string, result *frame.Frame) *types.BacktestResponse {
	var indicatorNames []string
	for _, name := range result.ColumnNames() {
		col, _ := result.Col(name)
		if !indicatorExclude[name] && col.Kind == frame.Float {
			indicatorNames = append(indicatorNames, name)
		}
	}

	// Hourly downsample keeps chart payloads small regardless of range.
	chart := result.Downsample(time.Hour)

	equityCurve := make([]types.ChartPoint, 0, chart.Len())
	candles := make([]types.CandlePoint, 0, chart.Len())
	indicators := make(map[string][]types.IndicatorPoint, len(indicatorNames))
	for _, name := range indicatorNames {
		indicators[name] = []types.IndicatorPoint{}
	}

	chartEquity, _ := chart.Col("equity")
	for i := 0; i < chart.Len(); i++ {
		ts := chart.Timestamps[i].Unix()
		if v, ok := chartEquity.At(i); ok {
			equityCurve = append(equityCurve, types.ChartPoint{Time: ts, Value: v})
		}
		candles = append(candles, types.CandlePoint{
			Time: ts, Open: chart.Open[i], High: chart.High[i],
			Low: chart.Low[i], Close: chart.Close[i], Volume: chart.Volume[i],
		})
		for _, name := range indicatorNames {
			if col, ok := chart.Col(name); ok {
				if v, valid := col.At(i); valid {
					indicators[name] = append(indicators[name], types.IndicatorPoint{Time: ts, Value: v})
				}
			}
		}
	}

	// Trade markers come from position changes at full resolution.
	position, _ := result.Col("position")
	var signals []types.SignalPoint
	prev := 0.0
	for i := 0; i < result.Len(); i++ {
		cur := position.Values[i]
		if action := cur - prev; action != 0 {
			kind := "sell"
			if action > 0 {
				kind = "buy"
			}
			signals = append(signals, types.SignalPoint{
				Time: result.Timestamps[i].Unix(), Type: kind, Price: result.Close[i],
			})
		}
		prev = cur
	}

	return &types.BacktestResponse{
		Symbol:      req.Symbol,
		Strategy:    req.Strategy,
		Metrics:     metrics,
		EquityCurve: equityCurve,
		Signals:     signals,
		Candles:     candles,
		Indicators:  indicators,
		Status:      "success",
	}
}

func (s *Service) runEvent(req types.BacktestRequest, data *frame.Frame, strat Strategy) (*types.BacktestResponse, error) {
	eventStrat, ok := strat.(EventStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q does not support event mode", ErrInvalidRequest, req.Strategy)
	}

	bus := NewBus()
	eventStrat.Attach(bus)
	portfolio := NewPortfolio(bus, req.InitialCash, req.RiskParams, s.logger)
	executor := NewExecutor(bus, req.Slippage, req.Commission, 0.10, s.logger)

	var candles []types.CandlePoint
	sorted := data.Clone()
	sorted.SortByTime()
	for i := 0; i < sorted.Len(); i++ {
		ts := sorted.Timestamps[i].Unix()
		bus.Publish(MarketEvent{
			Time: ts, Symbol: req.Symbol,
			Open: sorted.Open[i], High: sorted.High[i], Low: sorted.Low[i],
			Close: sorted.Close[i], Volume: sorted.Volume[i],
		})
		bus.ProcessAll()

		// Hourly snapshots keep the equity curve and candle payloads small.
		if ts%3600 == 0 {
			portfolio.Snapshot(ts)
			candles = append(candles, types.CandlePoint{
				Time: ts, Open: sorted.Open[i], High: sorted.High[i],
				Low: sorted.Low[i], Close: sorted.Close[i], Volume: sorted.Volume[i],
			})
		}
	}

	history := portfolio.EquityHistory()
	equityCurve := make([]types.ChartPoint, 0, len(history))
	equityValues := make([]float64, 0, len(history))
	for _, snap := range history {
		equityCurve = append(equityCurve, types.ChartPoint{Time: snap.Time, Value: snap.Equity})
		equityValues = append(equityValues, snap.Equity)
	}

	fills := portfolio.Fills()
	signals := make([]types.SignalPoint, 0, len(fills))
	for _, fill := range fills {
		kind := "sell"
		if fill.Side == types.BUY {
			kind = "buy"
		}
		signals = append(signals, types.SignalPoint{Time: fill.Time, Type: kind, Price: fill.Price})
	}

	stats := executor.Stats()
	metrics := CalculateMetrics(equityValues, req.InitialCash, fills)
	metrics["Status"] = "Event Backtest Completed"
	metrics["Sizing Method"] = string(req.RiskParams.SizingMethod)
	metrics["Execution Stats"] = formatExecutionStats(stats)

	return &types.BacktestResponse{
		Symbol:      req.Symbol,
		Strategy:    req.Strategy,
		Metrics:     metrics,
		EquityCurve: equityCurve,
		Signals:     signals,
		Candles:     candles,
		Indicators:  map[string][]types.IndicatorPoint{},
		Status:      "success",
		TaskID:      uuid.NewString(),
	}, nil
}

func formatExecutionStats(s ExecutionStats) string {
	fillRate := "N/A"
	if s.Orders > 0 {
		fillRate = formatPct(float64(s.Fills)/float64(s.Orders), 1)
	}
	return fmt.Sprintf("orders=%d fills=%d partial=%d rejected=%d fill_rate=%s",
		s.Orders, s.Fills, s.PartialFills, s.Rejected, fillRate)
}

// SignalCount counts position changes in a vector result, used by the
// scanner to summarize activity.
func SignalCount(result *frame.Frame) int {
	position, ok := result.Col("position")
	if !ok {
		return 0
	}
	count := 0
	prev := 0.0
	for i := range position.Values {
		if math.Abs(position.Values[i]-prev) > 0 {
			count++
		}
		prev = position.Values[i]
	}
	return count
}
