package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// Annualization factor for minute-resolution Sharpe: 252 trading days of
// 375 NSE session minutes.
const minutesPerYear = 252 * 375

var hundred = decimal.NewFromInt(100)

func formatPct(x float64, places int32) string {
	return decimal.NewFromFloat(x).Mul(hundred).StringFixed(places) + "%"
}

func formatFixed(x float64, places int32) string {
	return decimal.NewFromFloat(x).StringFixed(places)
}

// CalculateMetrics summarizes an equity curve into the standard display
// metrics. All values are formatted strings; consumers sort or compare by
// parsing them back, so the formats are part of the contract. Fills, when
// present, add round-trip trade metrics.
func CalculateMetrics(equity []float64, initialCash float64, fills []FillRecord) map[string]string {
	if len(equity) < 2 {
		return map[string]string{
			"Total Return":        "0.00%",
			"Max Drawdown":        "0.00%",
			"Sharpe Ratio":        "0.00",
			"Final Equity":        formatFixed(initialCash, 2),
			"Total Trades":        "0",
			"Win Rate":            "N/A",
			"Profit Factor":       "N/A",
			"Max Capital at Risk": "N/A",
		}
	}

	finalEquity := equity[len(equity)-1]
	totalReturn := finalEquity/initialCash - 1

	runningMax := equity[0]
	maxDrawdown := 0.0
	for _, e := range equity {
		if e > runningMax {
			runningMax = e
		}
		if runningMax > 0 {
			if dd := (e - runningMax) / runningMax; dd < maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		r := 0.0
		if equity[i-1] != 0 {
			r = (equity[i] - equity[i-1]) / equity[i-1]
		}
		if math.IsNaN(r) {
			r = 0
		}
		returns = append(returns, r)
	}
	sharpe := sharpeRatio(returns)

	metrics := map[string]string{
		"Total Return": formatPct(totalReturn, 2),
		"Max Drawdown": formatPct(maxDrawdown, 2),
		"Sharpe Ratio": formatFixed(sharpe, 2),
		"Final Equity": formatFixed(finalEquity, 2),
	}
	addTradeMetrics(metrics, initialCash, fills)
	return metrics
}

// sharpeRatio annualizes mean/std of per-bar returns. Sample standard
// deviation; degenerate inputs score zero.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(minutesPerYear)
}

// addTradeMetrics pairs BUY and SELL fills into round trips and derives
// win rate, profit factor and peak capital deployed.
func addTradeMetrics(metrics map[string]string, initialCash float64, fills []FillRecord) {
	var buys, sells []FillRecord
	for _, f := range fills {
		switch f.Side {
		case "BUY":
			buys = append(buys, f)
		case "SELL":
			sells = append(sells, f)
		}
	}

	totalTrades := len(buys)
	if len(sells) < totalTrades {
		totalTrades = len(sells)
	}
	metrics["Total Trades"] = formatFixed(float64(totalTrades), 0)
	if totalTrades == 0 {
		metrics["Win Rate"] = "N/A"
		metrics["Profit Factor"] = "N/A"
		metrics["Max Capital at Risk"] = "N/A"
		return
	}

	winners := 0
	grossProfit, grossLoss, maxCapital := 0.0, 0.0, 0.0
	for i := 0; i < totalTrades; i++ {
		pnl := (sells[i].Price - buys[i].Price) * buys[i].Quantity
		capital := buys[i].Price * buys[i].Quantity
		if pnl > 0 {
			winners++
			grossProfit += pnl
		} else {
			grossLoss += math.Abs(pnl)
		}
		if capital > maxCapital {
			maxCapital = capital
		}
	}

	metrics["Win Rate"] = formatPct(float64(winners)/float64(totalTrades), 1)
	switch {
	case grossLoss > 0:
		metrics["Profit Factor"] = formatFixed(grossProfit/grossLoss, 2)
	case grossProfit > 0:
		metrics["Profit Factor"] = "∞"
	default:
		metrics["Profit Factor"] = "N/A"
	}
	metrics["Max Capital at Risk"] = formatPct(maxCapital/initialCash, 1)
}
