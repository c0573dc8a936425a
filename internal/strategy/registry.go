// Package strategy implements the built-in trading strategies and the
// registry that resolves them by name.
//
// Every vector strategy follows the same shape: compute indicators over
// the whole frame, emit a sparse trigger column (1 = go long, 0 = go
// flat, null = no opinion), then latch the trigger with a forward fill so
// a position holds until the opposite trigger fires. Strategies that also
// support event mode keep incremental per-bar state behind an initialized
// flag and publish SignalEvents once warm; they stay silent (but keep
// updating state) when no bus is attached.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"hermes/internal/backtest"
	"hermes/internal/frame"
	"hermes/pkg/types"
)

// Registry maps strategy names to constructors. It implements
// backtest.StrategyFactory for the service layer.
type Registry struct {
	builders map[string]func(params map[string]float64) (backtest.Strategy, error)
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]func(map[string]float64) (backtest.Strategy, error){
		"SMACrossover": func(p map[string]float64) (backtest.Strategy, error) {
			return NewSMACrossover(p)
		},
		"RSIStrategy": func(p map[string]float64) (backtest.Strategy, error) {
			return NewRSIStrategy(p)
		},
		"MACDStrategy": func(p map[string]float64) (backtest.Strategy, error) {
			return NewMACDStrategy(p)
		},
		"BollingerBandsStrategy": func(p map[string]float64) (backtest.Strategy, error) {
			return NewBollingerBandsStrategy(p)
		},
		"MTFTrendFollowingStrategy": func(p map[string]float64) (backtest.Strategy, error) {
			return NewMTFTrendFollowingStrategy(p)
		},
	}}
}

// Create builds the named strategy, applying defaults for omitted params.
func (r *Registry) Create(name string, params map[string]float64) (backtest.Strategy, error) {
	build, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q not found, available: %s",
			name, strings.Join(r.Names(), ", "))
	}
	strat, err := build(params)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", name, err)
	}
	return strat, nil
}

// Names lists the registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultParams returns each strategy's parameters at their default
// values, keyed by strategy name. The API serves this for client-side
// parameter forms.
func (r *Registry) DefaultParams() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"SMACrossover": {"fast_period": 50, "slow_period": 200},
		"RSIStrategy":  {"period": 14, "oversold": 30, "overbought": 70},
		"MACDStrategy": {"fast_period": 12, "slow_period": 26, "signal_period": 9},
		"BollingerBandsStrategy": {"period": 20, "std_dev": 2},
		"MTFTrendFollowingStrategy": {
			"fast_period": 50, "slow_period": 200,
			"rsi_period": 14, "oversold": 30, "overbought": 70,
		},
	}
}

// param returns params[key], or def when the caller omitted it.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// latch turns a sparse trigger column into a continuous position signal:
// each row carries the last opinion, flat before the first one.
func latch(trigger frame.Series) frame.Series {
	out := trigger.ForwardFill().FillNull(0)
	out.Kind = frame.Int
	return out
}

// signaler carries the bus handle event-capable strategies publish
// through. The zero value (no bus) swallows emits.
type signaler struct {
	bus  *backtest.Bus
	name string
}

func (s *signaler) attach(strat backtest.EventStrategy, bus *backtest.Bus) {
	s.bus = bus
	s.name = strat.Name()
	bus.Subscribe(backtest.KindMarket, func(e backtest.Event) { strat.OnBar(e.(backtest.MarketEvent)) })
	bus.Subscribe(backtest.KindFill, func(e backtest.Event) { strat.OnFill(e.(backtest.FillEvent)) })
}

func (s *signaler) emit(t int64, symbol string, dir types.SignalDirection) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(backtest.SignalEvent{
		Time: t, Symbol: symbol, Direction: dir, Strength: 1, StrategyID: s.name,
	})
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
