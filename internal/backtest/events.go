// Package backtest implements both execution models for strategy runs: a
// vectorized engine that turns a signal column into an equity curve, and an
// event-driven engine that replays bars through a bus connecting strategy,
// portfolio and execution.
package backtest

import "hermes/pkg/types"

// EventKind discriminates bus events.
type EventKind int

const (
	KindMarket EventKind = iota
	KindSignal
	KindOrder
	KindFill
)

// Event is anything that can travel on the Bus. Times are epoch seconds of
// the naive bar timestamp.
type Event interface {
	Kind() EventKind
	At() int64
}

// MarketEvent is one OHLCV bar entering the simulation.
type MarketEvent struct {
	Time   int64
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func (e MarketEvent) Kind() EventKind { return KindMarket }
func (e MarketEvent) At() int64       { return e.Time }

// SignalEvent is a strategy's intent for a symbol. StrategyID names the
// emitting strategy so downstream consumers can attribute fills.
type SignalEvent struct {
	Time       int64
	Symbol     string
	Direction  types.SignalDirection
	Strength   float64
	StrategyID string
}

func (e SignalEvent) Kind() EventKind { return KindSignal }
func (e SignalEvent) At() int64       { return e.Time }

// OrderEvent is a sized order from the portfolio. LimitPrice is only
// meaningful for LIMIT orders.
type OrderEvent struct {
	Time       int64
	Symbol     string
	Type       types.OrderType
	Quantity   float64
	Side       types.Side
	LimitPrice float64
}

func (e OrderEvent) Kind() EventKind { return KindOrder }
func (e OrderEvent) At() int64       { return e.Time }

// FillEvent reports an executed (possibly partial) order.
type FillEvent struct {
	Time       int64
	Symbol     string
	Exchange   string
	Quantity   float64
	Side       types.Side
	FillPrice  float64
	Commission float64
}

func (e FillEvent) Kind() EventKind { return KindFill }
func (e FillEvent) At() int64       { return e.Time }
