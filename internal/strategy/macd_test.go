package strategy

import (
	"testing"

	"hermes/internal/backtest"
	"hermes/pkg/types"
)

func TestMACDFlatSeriesStaysFlat(t *testing.T) {
	t.Parallel()
	strat, _ := NewMACDStrategy(nil)
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	out, err := strat.GenerateSignals(closesFrame(closes))
	if err != nil {
		t.Fatal(err)
	}

	macd, _ := out.Col("macd_line")
	for i, v := range macd.Values {
		if v != 0 {
			t.Errorf("macd_line[%d] = %v, want 0 on a flat series", i, v)
		}
	}
	// Equal lines carry no opinion, so the latch fill keeps everything flat.
	for i, v := range signalValues(t, out) {
		if v != 0 {
			t.Errorf("signal[%d] = %v, want 0", i, v)
		}
	}
}

func TestMACDTrendDirection(t *testing.T) {
	t.Parallel()
	strat, _ := NewMACDStrategy(nil)

	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	out, err := strat.GenerateSignals(closesFrame(up))
	if err != nil {
		t.Fatal(err)
	}
	sig := signalValues(t, out)
	if sig[len(sig)-1] != 1 {
		t.Error("sustained up-trend must end long")
	}

	// Rise then a sharp fall turns the MACD below its signal line.
	turn := append(append([]float64{}, up...), 140, 120, 100, 80, 60, 40)
	out, err = strat.GenerateSignals(closesFrame(turn))
	if err != nil {
		t.Fatal(err)
	}
	sig = signalValues(t, out)
	if sig[len(sig)-1] != 0 {
		t.Error("sharp reversal must end flat")
	}
	for i, v := range sig {
		if v != 0 && v != 1 {
			t.Fatalf("signal[%d] = %v, want only 0 or 1", i, v)
		}
	}
}

func TestMACDEventMode(t *testing.T) {
	t.Parallel()
	strat, _ := NewMACDStrategy(map[string]float64{
		"fast_period": 3, "slow_period": 6, "signal_period": 2,
	})
	bus := backtest.NewBus()
	strat.Attach(bus)
	signals := collectSignals(bus)

	closes := make([]float64, 0, 18)
	for i := 0; i < 12; i++ {
		closes = append(closes, 100+2*float64(i))
	}
	for i := 0; i < 6; i++ {
		closes = append(closes, 122-8*float64(i))
	}
	feedBars(bus, closes)

	if !strat.initialized {
		t.Fatal("strategy not initialized after the slow period")
	}
	got := *signals
	if len(got) != 2 {
		t.Fatalf("got %d signals, want LONG then EXIT: %+v", len(got), got)
	}
	if got[0].Direction != types.SignalLong || got[0].Time != 5 {
		t.Errorf("first signal = %+v, want LONG at the first warm bar", got[0])
	}
	if got[1].Direction != types.SignalExit {
		t.Errorf("second signal = %+v, want EXIT after the reversal", got[1])
	}
}

func TestMACDEventModeWithoutBus(t *testing.T) {
	t.Parallel()
	strat, _ := NewMACDStrategy(map[string]float64{
		"fast_period": 3, "slow_period": 6, "signal_period": 2,
	})
	for i := 0; i < 10; i++ {
		strat.OnBar(backtest.MarketEvent{Time: int64(i), Symbol: "TEST", Close: 100 + 2*float64(i)})
	}
	if !strat.initialized || !strat.long {
		t.Error("state must advance without a bus")
	}
}
