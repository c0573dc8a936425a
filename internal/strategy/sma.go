package strategy

import (
	"fmt"

	"hermes/internal/backtest"
	"hermes/internal/frame"
	"hermes/pkg/types"
)

// SMACrossover is long while the fast moving average sits above the slow
// one and flat otherwise. There is no latch: the crossover boolean itself
// is the signal, and warm-up rows are flat.
type SMACrossover struct {
	signaler
	fast int
	slow int

	// incremental state for event mode
	closes      []float64
	initialized bool
	long        bool
}

// NewSMACrossover builds the strategy. Params: fast_period (50),
// slow_period (200).
func NewSMACrossover(params map[string]float64) (*SMACrossover, error) {
	fast := int(param(params, "fast_period", 50))
	slow := int(param(params, "slow_period", 200))
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("sma periods must be positive, got fast=%d slow=%d", fast, slow)
	}
	if fast > slow {
		return nil, fmt.Errorf("fast period %d exceeds slow period %d", fast, slow)
	}
	return &SMACrossover{fast: fast, slow: slow}, nil
}

func (s *SMACrossover) Name() string { return "SMACrossover" }

// GenerateSignals appends sma_fast, sma_slow and the signal column.
func (s *SMACrossover) GenerateSignals(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	fast := frame.RollingMean(out.Close, s.fast)
	slow := frame.RollingMean(out.Close, s.slow)

	sig := frame.NewSeries(make([]float64, out.Len()))
	sig.Kind = frame.Int
	for i := 0; i < out.Len(); i++ {
		fv, fok := fast.At(i)
		sv, sok := slow.At(i)
		if fok && sok && fv > sv {
			sig.Values[i] = 1
		}
	}

	out.SetColumn("sma_fast", fast)
	out.SetColumn("sma_slow", slow)
	out.SetColumn("signal", sig)
	return out, nil
}

// Attach wires the strategy into the event bus.
func (s *SMACrossover) Attach(bus *backtest.Bus) { s.attach(s, bus) }

// OnBar updates the rolling windows and emits on crossovers once the slow
// window is full.
func (s *SMACrossover) OnBar(e backtest.MarketEvent) {
	s.closes = append(s.closes, e.Close)
	if len(s.closes) > s.slow {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.slow {
		return
	}
	s.initialized = true

	fast := mean(s.closes[len(s.closes)-s.fast:])
	slow := mean(s.closes)
	switch {
	case fast > slow && !s.long:
		s.long = true
		s.emit(e.Time, e.Symbol, types.SignalLong)
	case fast <= slow && s.long:
		s.long = false
		s.emit(e.Time, e.Symbol, types.SignalExit)
	}
}

func (s *SMACrossover) OnFill(backtest.FillEvent) {}
