package backtest

import (
	"log/slog"
	"math"

	"hermes/pkg/types"
)

// ExecutionStats counts order outcomes across a run.
type ExecutionStats struct {
	Orders       int `json:"total_orders"`
	Fills        int `json:"total_fills"`
	PartialFills int `json:"total_partial_fills"`
	Rejected     int `json:"total_rejected"`
}

// Executor models realistic order matching against the current bar:
// fills are capped at a participation share of bar volume, price impact
// grows with the square root of participation, and fills never cross the
// bar's high/low.
type Executor struct {
	bus                  *Bus
	slippage             float64
	commissionPerUnit    float64
	maxParticipationRate float64
	logger               *slog.Logger

	lastPrice  float64
	lastVolume float64
	lastHigh   float64
	lastLow    float64

	stats ExecutionStats
}

// NewExecutor subscribes an execution handler to the bus. slippage is the
// base impact fraction, commission is charged per unit filled.
func NewExecutor(bus *Bus, slippage, commission, maxParticipation float64, logger *slog.Logger) *Executor {
	if maxParticipation <= 0 {
		maxParticipation = 0.10
	}
	x := &Executor{
		bus:                  bus,
		slippage:             slippage,
		commissionPerUnit:    commission,
		maxParticipationRate: maxParticipation,
		logger:               logger.With("component", "execution"),
	}
	bus.Subscribe(KindOrder, func(e Event) { x.onOrder(e.(OrderEvent)) })
	bus.Subscribe(KindMarket, func(e Event) { x.onBar(e.(MarketEvent)) })
	return x
}

// Stats returns the order outcome counters.
func (x *Executor) Stats() ExecutionStats { return x.stats }

func (x *Executor) onBar(e MarketEvent) {
	x.lastPrice = e.Close
	x.lastVolume = e.Volume
	x.lastHigh = e.High
	x.lastLow = e.Low
}

// fillQuantity caps the request at the participation share of bar volume.
// Bars with no volume data fill in full.
func (x *Executor) fillQuantity(requested float64) float64 {
	if x.lastVolume <= 0 {
		return requested
	}
	maxFill := x.lastVolume * x.maxParticipationRate
	return math.Min(requested, math.Max(1, maxFill))
}

// impactPrice applies square-root market impact and clamps the result
// inside the bar's range.
func (x *Executor) impactPrice(basePrice, fillQty float64, side types.Side) float64 {
	participation := 0.0
	if x.lastVolume > 0 {
		participation = fillQty / x.lastVolume
	}
	impact := x.slippage
	if participation > 0 {
		impact = x.slippage * math.Sqrt(participation)
	}

	if side == types.BUY {
		price := basePrice * (1 + impact)
		if x.lastHigh > 0 {
			price = math.Min(price, x.lastHigh)
		}
		return price
	}
	price := basePrice * (1 - impact)
	if x.lastLow > 0 {
		price = math.Max(price, x.lastLow)
	}
	return price
}

func (x *Executor) onOrder(e OrderEvent) {
	x.stats.Orders++

	basePrice := x.lastPrice
	if e.Type == types.OrderTypeLimit && e.LimitPrice > 0 {
		// A limit is only executable if the bar's range reached it.
		if e.Side == types.BUY && e.LimitPrice < x.lastLow {
			x.stats.Rejected++
			return
		}
		if e.Side == types.SELL && e.LimitPrice > x.lastHigh {
			x.stats.Rejected++
			return
		}
		basePrice = e.LimitPrice
	}
	if basePrice <= 0 {
		x.logger.Warn("order has no valid price", "symbol", e.Symbol)
		x.stats.Rejected++
		return
	}

	fillQty := x.fillQuantity(e.Quantity)
	if fillQty < e.Quantity {
		x.stats.PartialFills++
	}

	x.bus.Publish(FillEvent{
		Time:       e.Time,
		Symbol:     e.Symbol,
		Exchange:   "BACKTEST",
		Quantity:   fillQty,
		Side:       e.Side,
		FillPrice:  x.impactPrice(basePrice, fillQty, e.Side),
		Commission: x.commissionPerUnit * fillQty,
	})
	x.stats.Fills++
}
