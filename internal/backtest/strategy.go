package backtest

import (
	"hermes/internal/frame"
)

// Strategy is the vectorized strategy contract: given an OHLCV frame it
// returns the frame extended with a "signal" column holding the target
// position per bar (1 = be long, 0 = be flat), plus any indicator columns
// the strategy wants charted.
type Strategy interface {
	Name() string
	GenerateSignals(f *frame.Frame) (*frame.Frame, error)
}

// EventStrategy extends Strategy with incremental bar-by-bar state for the
// event engine. Attach subscribes the strategy to market and fill events
// and gives it the bus to publish SignalEvents on; OnBar must also work
// with no bus attached so tests can drive state directly.
type EventStrategy interface {
	Strategy
	Attach(bus *Bus)
	OnBar(e MarketEvent)
	OnFill(e FillEvent)
}

// StrategyFactory resolves strategy names to instances. Implemented by the
// strategy registry; defined here so the service layer does not depend on
// the concrete strategy package.
type StrategyFactory interface {
	// Create builds a named strategy with the given parameters, applying
	// defaults for any the caller omits.
	Create(name string, params map[string]float64) (Strategy, error)

	// Names lists the registered strategies, sorted.
	Names() []string
}
