package strategy

import (
	"testing"

	"hermes/internal/backtest"
	"hermes/pkg/types"
)

func TestBollingerFlatSeriesCollapsesBands(t *testing.T) {
	t.Parallel()
	strat, _ := NewBollingerBandsStrategy(map[string]float64{"period": 3})
	out, err := strat.GenerateSignals(closesFrame([]float64{100, 100, 100, 100, 100}))
	if err != nil {
		t.Fatal(err)
	}

	upper, _ := out.Col("bb_upper")
	lower, _ := out.Col("bb_lower")
	for i := 2; i < out.Len(); i++ {
		if upper.Values[i] != 100 || lower.Values[i] != 100 {
			t.Errorf("bands[%d] = [%v, %v], want collapsed on 100",
				i, lower.Values[i], upper.Values[i])
		}
	}
	// A close sitting on a collapsed band is neither below nor above it.
	for i, v := range signalValues(t, out) {
		if v != 0 {
			t.Errorf("signal[%d] = %v, want 0", i, v)
		}
	}
}

func TestBollingerDipBuysAndSpikeExits(t *testing.T) {
	t.Parallel()
	strat, err := NewBollingerBandsStrategy(map[string]float64{"period": 3, "std_dev": 1})
	if err != nil {
		t.Fatal(err)
	}

	// The drop to 80 pierces the lower band, the latch holds through the
	// recovery, and the spike to 120 pierces the upper band.
	closes := []float64{100, 100, 100, 80, 100, 100, 120}
	out, err := strat.GenerateSignals(closesFrame(closes))
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{0, 0, 0, 1, 1, 1, 0}
	got := signalValues(t, out)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBollingerWarmupIsNull(t *testing.T) {
	t.Parallel()
	strat, _ := NewBollingerBandsStrategy(map[string]float64{"period": 3})
	out, err := strat.GenerateSignals(closesFrame([]float64{100, 90}))
	if err != nil {
		t.Fatal(err)
	}
	mid, _ := out.Col("bb_mid")
	for i := 0; i < out.Len(); i++ {
		if mid.Valid[i] {
			t.Errorf("bb_mid[%d] valid before the window fills", i)
		}
	}
	for i, v := range signalValues(t, out) {
		if v != 0 {
			t.Errorf("signal[%d] = %v, want 0 during warm-up", i, v)
		}
	}
}

func TestBollingerEventMode(t *testing.T) {
	t.Parallel()
	strat, _ := NewBollingerBandsStrategy(map[string]float64{"period": 3, "std_dev": 1})
	bus := backtest.NewBus()
	strat.Attach(bus)
	signals := collectSignals(bus)

	feedBars(bus, []float64{100, 100, 100, 80, 100, 100, 120})

	if !strat.initialized {
		t.Fatal("strategy not initialized after the window filled")
	}
	got := *signals
	if len(got) != 2 {
		t.Fatalf("got %d signals, want LONG then EXIT: %+v", len(got), got)
	}
	if got[0].Direction != types.SignalLong || got[0].Time != 3 {
		t.Errorf("first signal = %+v, want LONG at bar 3", got[0])
	}
	if got[1].Direction != types.SignalExit || got[1].Time != 6 {
		t.Errorf("second signal = %+v, want EXIT at bar 6", got[1])
	}
}

func TestBollingerEventModeWithoutBus(t *testing.T) {
	t.Parallel()
	strat, _ := NewBollingerBandsStrategy(map[string]float64{"period": 3, "std_dev": 1})
	for i, c := range []float64{100, 100, 100, 80} {
		strat.OnBar(backtest.MarketEvent{Time: int64(i), Symbol: "TEST", Close: c})
	}
	if !strat.initialized || !strat.long {
		t.Error("state must advance without a bus")
	}
}
