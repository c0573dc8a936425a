package strategy

import (
	"fmt"

	"hermes/internal/backtest"
	"hermes/internal/frame"
	"hermes/pkg/types"
)

// RSIStrategy trades mean reversion on the relative strength index: long
// below the oversold level, flat above the overbought level, latched in
// between.
type RSIStrategy struct {
	signaler
	period     int
	oversold   float64
	overbought float64

	// incremental Wilder state for event mode
	prevClose   float64
	haveClose   bool
	changes     int
	sumGain     float64
	sumLoss     float64
	avgGain     float64
	avgLoss     float64
	initialized bool
	long        bool
}

// NewRSIStrategy builds the strategy. Params: period (14), oversold (30),
// overbought (70).
func NewRSIStrategy(params map[string]float64) (*RSIStrategy, error) {
	period := int(param(params, "period", 14))
	oversold := param(params, "oversold", 30)
	overbought := param(params, "overbought", 70)
	if period < 2 {
		return nil, fmt.Errorf("rsi period must be at least 2, got %d", period)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("oversold %v must be below overbought %v", oversold, overbought)
	}
	return &RSIStrategy{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIStrategy) Name() string { return "RSIStrategy" }

// GenerateSignals appends the rsi column and the latched signal column.
func (s *RSIStrategy) GenerateSignals(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	rsi := rsiSeries(out.Close, s.period)

	trigger := frame.NullSeries(out.Len())
	trigger.Kind = frame.Int
	for i := range rsi.Values {
		switch {
		case rsi.Values[i] < s.oversold:
			trigger.Values[i] = 1
			trigger.Valid[i] = true
		case rsi.Values[i] > s.overbought:
			trigger.Values[i] = 0
			trigger.Valid[i] = true
		}
	}

	out.SetColumn("rsi", rsi)
	out.SetColumn("signal", latch(trigger))
	return out, nil
}

// rsiSeries computes the RSI over closes using Wilder smoothing
// (exponentially weighted mean with com = period-1). Warm-up rows and
// flat stretches read as the neutral 50.
func rsiSeries(closes []float64, period int) frame.Series {
	n := len(closes)
	change := frame.Diff(closes)
	gain := make([]float64, n)
	loss := make([]float64, n)
	for i := 0; i < n; i++ {
		if v, ok := change.At(i); ok {
			if v > 0 {
				gain[i] = v
			} else {
				loss[i] = -v
			}
		}
	}

	avgGain := frame.EWMMeanCom(gain, float64(period-1), period)
	avgLoss := frame.EWMMeanCom(loss, float64(period-1), period)

	rsi := frame.NewSeries(make([]float64, n))
	for i := 0; i < n; i++ {
		g, gok := avgGain.At(i)
		l, lok := avgLoss.At(i)
		if !gok || !lok {
			rsi.Values[i] = 50
			continue
		}
		rsi.Values[i] = rsiValue(g, l)
	}
	return rsi
}

// rsiValue maps smoothed gain/loss averages to the 0-100 RSI scale.
// All-zero input (a perfectly flat stretch) reads as neutral.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Attach wires the strategy into the event bus.
func (s *RSIStrategy) Attach(bus *backtest.Bus) { s.attach(s, bus) }

// OnBar feeds one close into the incremental Wilder averages. The first
// period price changes seed the averages with a simple mean; after that
// the usual recursive update applies.
func (s *RSIStrategy) OnBar(e backtest.MarketEvent) {
	if s.haveClose {
		change := e.Close - s.prevClose
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		s.changes++
		switch {
		case s.changes < s.period:
			s.sumGain += gain
			s.sumLoss += loss
		case s.changes == s.period:
			s.avgGain = (s.sumGain + gain) / float64(s.period)
			s.avgLoss = (s.sumLoss + loss) / float64(s.period)
			s.initialized = true
		default:
			p := float64(s.period)
			s.avgGain = (s.avgGain*(p-1) + gain) / p
			s.avgLoss = (s.avgLoss*(p-1) + loss) / p
		}
	}
	s.prevClose = e.Close
	s.haveClose = true

	if !s.initialized {
		return
	}
	rsi := rsiValue(s.avgGain, s.avgLoss)
	switch {
	case rsi < s.oversold && !s.long:
		s.long = true
		s.emit(e.Time, e.Symbol, types.SignalLong)
	case rsi > s.overbought && s.long:
		s.long = false
		s.emit(e.Time, e.Symbol, types.SignalExit)
	}
}

func (s *RSIStrategy) OnFill(backtest.FillEvent) {}
