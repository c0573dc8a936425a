package strategy

import (
	"fmt"
	"math"

	"hermes/internal/backtest"
	"hermes/internal/frame"
	"hermes/pkg/types"
)

// BollingerBandsStrategy trades band touches: long when the close drops
// below the lower band, flat when it climbs above the upper band, latched
// in between.
type BollingerBandsStrategy struct {
	signaler
	period int
	mult   float64

	// incremental state for event mode
	window      []float64
	initialized bool
	long        bool
}

// NewBollingerBandsStrategy builds the strategy. Params: period (20),
// std_dev (2.0).
func NewBollingerBandsStrategy(params map[string]float64) (*BollingerBandsStrategy, error) {
	period := int(param(params, "period", 20))
	mult := param(params, "std_dev", 2.0)
	if period < 2 {
		return nil, fmt.Errorf("bollinger period must be at least 2, got %d", period)
	}
	if mult <= 0 {
		return nil, fmt.Errorf("std_dev multiplier must be positive, got %v", mult)
	}
	return &BollingerBandsStrategy{period: period, mult: mult}, nil
}

func (s *BollingerBandsStrategy) Name() string { return "BollingerBandsStrategy" }

// GenerateSignals appends bb_mid, bb_upper, bb_lower and the latched
// signal column.
func (s *BollingerBandsStrategy) GenerateSignals(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	n := out.Len()

	mid := frame.RollingMean(out.Close, s.period)
	std := frame.RollingStd(out.Close, s.period)

	upper := frame.NullSeries(n)
	lower := frame.NullSeries(n)
	trigger := frame.NullSeries(n)
	trigger.Kind = frame.Int
	for i := 0; i < n; i++ {
		m, mok := mid.At(i)
		sd, sok := std.At(i)
		if !mok || !sok {
			continue
		}
		upper.Values[i] = m + sd*s.mult
		upper.Valid[i] = true
		lower.Values[i] = m - sd*s.mult
		lower.Valid[i] = true

		switch {
		case out.Close[i] < lower.Values[i]:
			trigger.Values[i] = 1
			trigger.Valid[i] = true
		case out.Close[i] > upper.Values[i]:
			trigger.Values[i] = 0
			trigger.Valid[i] = true
		}
	}

	out.SetColumn("bb_mid", mid)
	out.SetColumn("bb_upper", upper)
	out.SetColumn("bb_lower", lower)
	out.SetColumn("signal", latch(trigger))
	return out, nil
}

// Attach wires the strategy into the event bus.
func (s *BollingerBandsStrategy) Attach(bus *backtest.Bus) { s.attach(s, bus) }

// OnBar updates the rolling window and emits on band breaches once the
// window is full.
func (s *BollingerBandsStrategy) OnBar(e backtest.MarketEvent) {
	s.window = append(s.window, e.Close)
	if len(s.window) > s.period {
		s.window = s.window[1:]
	}
	if len(s.window) < s.period {
		return
	}
	s.initialized = true

	m := mean(s.window)
	variance := 0.0
	for _, v := range s.window {
		variance += (v - m) * (v - m)
	}
	sd := math.Sqrt(variance / float64(len(s.window)-1))

	switch {
	case e.Close < m-sd*s.mult && !s.long:
		s.long = true
		s.emit(e.Time, e.Symbol, types.SignalLong)
	case e.Close > m+sd*s.mult && s.long:
		s.long = false
		s.emit(e.Time, e.Symbol, types.SignalExit)
	}
}

func (s *BollingerBandsStrategy) OnFill(backtest.FillEvent) {}
