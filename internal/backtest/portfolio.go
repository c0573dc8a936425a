package backtest

import (
	"log/slog"
	"math"

	"hermes/pkg/types"
)

// Position tracks one symbol's open quantity and cost basis.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	TotalCost     float64
	RealizedPnL   float64
}

// IsOpen reports whether any quantity is held.
func (p *Position) IsOpen() bool { return p.Quantity != 0 }

// MarkToMarket returns unrealized P&L at the given price.
func (p *Position) MarkToMarket(price float64) float64 {
	return (price - p.AvgEntryPrice) * p.Quantity
}

// FillRecord is one executed fill as the portfolio logged it.
type FillRecord struct {
	Time        int64      `json:"time"`
	Symbol      string     `json:"symbol"`
	Side        types.Side `json:"side"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price"`
	Commission  float64    `json:"commission"`
	CashAfter   float64    `json:"cash_after"`
	EquityAfter float64    `json:"equity_after"`
}

// EquityPoint is one snapshot of the portfolio's value.
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
	Cash   float64 `json:"cash"`
}

// Portfolio is the risk-aware portfolio manager for the event engine. It
// turns SignalEvents into sized OrderEvents, applies fills to cash and
// positions, marks to market on every bar and fires stop-loss exits.
type Portfolio struct {
	bus         *Bus
	initialCash float64
	cash        float64
	risk        types.RiskParams
	logger      *slog.Logger

	positions  map[string]*Position
	lastPrices map[string]float64

	equityHistory []EquityPoint
	fills         []FillRecord
}

// NewPortfolio subscribes a portfolio to the bus.
func NewPortfolio(bus *Bus, initialCash float64, risk types.RiskParams, logger *slog.Logger) *Portfolio {
	risk.Normalize()
	p := &Portfolio{
		bus:         bus,
		initialCash: initialCash,
		cash:        initialCash,
		risk:        risk,
		logger:      logger.With("component", "portfolio"),
		positions:   make(map[string]*Position),
		lastPrices:  make(map[string]float64),
	}
	bus.Subscribe(KindSignal, func(e Event) { p.onSignal(e.(SignalEvent)) })
	bus.Subscribe(KindFill, func(e Event) { p.onFill(e.(FillEvent)) })
	bus.Subscribe(KindMarket, func(e Event) { p.onBar(e.(MarketEvent)) })
	return p
}

// Cash returns uninvested cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// Equity is cash plus every position marked at its last seen price.
func (p *Portfolio) Equity() float64 {
	total := p.cash
	for sym, pos := range p.positions {
		price, ok := p.lastPrices[sym]
		if !ok {
			price = pos.AvgEntryPrice
		}
		total += pos.Quantity * price
	}
	return total
}

// Fills returns the fill log in arrival order.
func (p *Portfolio) Fills() []FillRecord { return p.fills }

// EquityHistory returns recorded snapshots in time order.
func (p *Portfolio) EquityHistory() []EquityPoint { return p.equityHistory }

// Position returns the tracker for a symbol, creating it if absent.
func (p *Portfolio) Position(symbol string) *Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	return pos
}

// Snapshot records the current equity at a point in time.
func (p *Portfolio) Snapshot(t int64) {
	p.equityHistory = append(p.equityHistory, EquityPoint{Time: t, Equity: p.Equity(), Cash: p.cash})
}

// sizedQuantity converts a signal into a share count per the sizing method.
func (p *Portfolio) sizedQuantity(price float64) float64 {
	switch p.risk.SizingMethod {
	case types.SizingPctEquity:
		if price <= 0 {
			return 0
		}
		qty := math.Round(p.Equity() * p.risk.PctEquity / price)
		return math.Max(1, qty)
	case types.SizingATRBased:
		// Stop distance stands in for expected volatility until the
		// strategy supplies a live ATR.
		riskPerShare := price * p.risk.StopLossPct
		if riskPerShare <= 0 {
			return 0
		}
		qty := math.Round(p.Equity() * p.risk.PctEquity / riskPerShare)
		return math.Max(1, qty)
	default:
		return p.risk.FixedQuantity
	}
}

// capToPositionLimit shrinks qty so the position stays under the configured
// share of equity. Returns zero when the limit is already reached.
func (p *Portfolio) capToPositionLimit(symbol string, qty, price float64) float64 {
	maxAlloc := p.Equity() * p.risk.MaxPositionPct
	current := p.Position(symbol).Quantity * price
	headroom := maxAlloc - current
	if headroom <= 0 {
		p.logger.Warn("position limit reached", "symbol", symbol,
			"current", current, "max", maxAlloc)
		return 0
	}
	if price <= 0 {
		return 0
	}
	maxQty := math.Max(1, math.Round(headroom/price))
	return math.Min(qty, maxQty)
}

func (p *Portfolio) onSignal(e SignalEvent) {
	pos := p.Position(e.Symbol)
	price := p.lastPrices[e.Symbol]

	var order *OrderEvent
	switch e.Direction {
	case types.SignalLong:
		if pos.IsOpen() {
			return
		}
		qty := p.sizedQuantity(price)
		qty = p.capToPositionLimit(e.Symbol, qty, price)
		if qty <= 0 || price <= 0 {
			return
		}
		if qty*price > p.cash {
			qty = math.Round(p.cash/price) - 1
			if qty <= 0 {
				p.logger.Warn("insufficient cash", "symbol", e.Symbol)
				return
			}
		}
		order = &OrderEvent{Time: e.Time, Symbol: e.Symbol, Type: types.OrderTypeMarket,
			Quantity: qty, Side: types.BUY}

	case types.SignalExit:
		if !pos.IsOpen() || pos.Quantity <= 0 {
			return
		}
		order = &OrderEvent{Time: e.Time, Symbol: e.Symbol, Type: types.OrderTypeMarket,
			Quantity: pos.Quantity, Side: types.SELL}

	case types.SignalShort:
		if pos.IsOpen() {
			return
		}
		qty := p.sizedQuantity(price)
		if qty <= 0 || price <= 0 {
			return
		}
		order = &OrderEvent{Time: e.Time, Symbol: e.Symbol, Type: types.OrderTypeMarket,
			Quantity: qty, Side: types.SELL}
	}

	if order != nil {
		p.bus.Publish(*order)
	}
}

func (p *Portfolio) onFill(e FillEvent) {
	pos := p.Position(e.Symbol)

	switch e.Side {
	case types.BUY:
		cost := e.Quantity*e.FillPrice + e.Commission
		p.cash -= cost
		newQty := pos.Quantity + e.Quantity
		if newQty > 0 {
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + e.FillPrice*e.Quantity) / newQty
		}
		pos.Quantity = newQty
		pos.TotalCost += cost

	case types.SELL:
		p.cash += e.Quantity*e.FillPrice - e.Commission
		pos.RealizedPnL += (e.FillPrice-pos.AvgEntryPrice)*e.Quantity - e.Commission
		pos.Quantity -= e.Quantity
		if pos.Quantity <= 0 {
			pos.Quantity = 0
			pos.AvgEntryPrice = 0
		}
	}

	p.fills = append(p.fills, FillRecord{
		Time:        e.Time,
		Symbol:      e.Symbol,
		Side:        e.Side,
		Quantity:    e.Quantity,
		Price:       e.FillPrice,
		Commission:  e.Commission,
		CashAfter:   p.cash,
		EquityAfter: p.Equity(),
	})
}

func (p *Portfolio) onBar(e MarketEvent) {
	p.lastPrices[e.Symbol] = e.Close

	pos := p.Position(e.Symbol)
	if !pos.IsOpen() || pos.Quantity <= 0 || pos.AvgEntryPrice <= 0 {
		return
	}
	lossPct := (e.Close - pos.AvgEntryPrice) / pos.AvgEntryPrice
	if lossPct < -p.risk.StopLossPct {
		p.logger.Info("stop-loss triggered", "symbol", e.Symbol,
			"loss_pct", lossPct, "threshold", -p.risk.StopLossPct)
		p.bus.Publish(OrderEvent{Time: e.Time, Symbol: e.Symbol,
			Type: types.OrderTypeMarket, Quantity: pos.Quantity, Side: types.SELL})
	}
}
