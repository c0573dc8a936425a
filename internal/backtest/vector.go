package backtest

import (
	"errors"

	"hermes/internal/frame"
)

// ErrMissingSignal is returned when a strategy frame lacks the "signal"
// column the vector engine needs.
var ErrMissingSignal = errors.New("strategy must output a \"signal\" column")

// VectorEngine turns a signal column into positions, returns and an equity
// curve in one closed-form pass.
type VectorEngine struct {
	InitialCash float64
}

func NewVectorEngine(initialCash float64) *VectorEngine {
	return &VectorEngine{InitialCash: initialCash}
}

// Run annotates the frame with position, market_return, strategy_return and
// equity columns. The signal column is the target position per bar; the
// engine never calls the strategy itself.
//
// The position is the signal lagged by one bar: a signal computed on bar
// t's close can only earn bar t+1's return. The first bar is always flat.
func (e *VectorEngine) Run(f *frame.Frame) (*frame.Frame, error) {
	signal, ok := f.Col("signal")
	if !ok {
		return nil, ErrMissingSignal
	}

	out := f.Clone()
	n := out.Len()

	// Close-to-close market return; invalid first row and any divide-by-zero
	// artifacts are flattened to zero.
	market := frame.NullSeries(n)
	for i := 1; i < n; i++ {
		if out.Close[i-1] != 0 {
			market.Values[i] = out.Close[i]/out.Close[i-1] - 1
			market.Valid[i] = true
		}
	}
	market = market.FillNaN(0).FillNull(0)

	position := signal.Shift(1).FillNull(0)

	strat := frame.NullSeries(n)
	for i := 0; i < n; i++ {
		strat.Values[i] = position.Values[i] * market.Values[i]
		strat.Valid[i] = true
	}
	strat = strat.FillNaN(0)

	equity := frame.NullSeries(n)
	acc := e.InitialCash
	for i := 0; i < n; i++ {
		acc *= 1 + strat.Values[i]
		equity.Values[i] = acc
		equity.Valid[i] = true
	}

	out.SetColumn("market_return", market)
	out.SetColumn("position", position)
	out.SetColumn("strategy_return", strat)
	out.SetColumn("equity", equity)
	return out, nil
}
