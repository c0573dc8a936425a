package strategy

import (
	"fmt"

	"hermes/internal/backtest"
	"hermes/internal/frame"
	"hermes/pkg/types"
)

// MACDStrategy follows momentum crossovers: long when the MACD line is
// above its signal line, flat when below, latched while they touch.
type MACDStrategy struct {
	signaler
	fast   float64
	slow   float64
	signal float64

	// incremental EMA state for event mode
	emaFast     float64
	emaSlow     float64
	signalLine  float64
	bars        int
	initialized bool
	long        bool
}

// NewMACDStrategy builds the strategy. Params: fast_period (12),
// slow_period (26), signal_period (9).
func NewMACDStrategy(params map[string]float64) (*MACDStrategy, error) {
	fast := param(params, "fast_period", 12)
	slow := param(params, "slow_period", 26)
	signal := param(params, "signal_period", 9)
	if fast < 1 || slow < 1 || signal < 1 {
		return nil, fmt.Errorf("macd periods must be positive, got fast=%v slow=%v signal=%v",
			fast, slow, signal)
	}
	return &MACDStrategy{fast: fast, slow: slow, signal: signal}, nil
}

func (s *MACDStrategy) Name() string { return "MACDStrategy" }

// GenerateSignals appends macd_line, signal_line and the latched signal
// column.
func (s *MACDStrategy) GenerateSignals(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	n := out.Len()

	emaFast := frame.EWMMeanSpan(out.Close, s.fast)
	emaSlow := frame.EWMMeanSpan(out.Close, s.slow)
	macd := make([]float64, n)
	for i := 0; i < n; i++ {
		macd[i] = emaFast.Values[i] - emaSlow.Values[i]
	}
	signalLine := frame.EWMMeanSpan(macd, s.signal)

	trigger := frame.NullSeries(n)
	trigger.Kind = frame.Int
	for i := 0; i < n; i++ {
		switch {
		case macd[i] > signalLine.Values[i]:
			trigger.Values[i] = 1
			trigger.Valid[i] = true
		case macd[i] < signalLine.Values[i]:
			trigger.Values[i] = 0
			trigger.Valid[i] = true
		}
	}

	out.SetColumn("macd_line", frame.NewSeries(macd))
	out.SetColumn("signal_line", signalLine)
	out.SetColumn("signal", latch(trigger))
	return out, nil
}

// Attach wires the strategy into the event bus.
func (s *MACDStrategy) Attach(bus *backtest.Bus) { s.attach(s, bus) }

// OnBar advances the recursive EMAs. Signals start once the slow EMA has
// seen a full period of bars.
func (s *MACDStrategy) OnBar(e backtest.MarketEvent) {
	s.bars++
	if s.bars == 1 {
		s.emaFast = e.Close
		s.emaSlow = e.Close
		s.signalLine = 0
		return
	}

	alphaFast := 2 / (s.fast + 1)
	alphaSlow := 2 / (s.slow + 1)
	alphaSignal := 2 / (s.signal + 1)
	s.emaFast = (1-alphaFast)*s.emaFast + alphaFast*e.Close
	s.emaSlow = (1-alphaSlow)*s.emaSlow + alphaSlow*e.Close
	macd := s.emaFast - s.emaSlow
	s.signalLine = (1-alphaSignal)*s.signalLine + alphaSignal*macd

	if float64(s.bars) < s.slow {
		return
	}
	s.initialized = true

	switch {
	case macd > s.signalLine && !s.long:
		s.long = true
		s.emit(e.Time, e.Symbol, types.SignalLong)
	case macd < s.signalLine && s.long:
		s.long = false
		s.emit(e.Time, e.Symbol, types.SignalExit)
	}
}

func (s *MACDStrategy) OnFill(backtest.FillEvent) {}
