package strategy

import (
	"testing"

	"hermes/internal/backtest"
	"hermes/pkg/types"
)

func TestSMACrossoverVector(t *testing.T) {
	t.Parallel()
	strat, err := NewSMACrossover(map[string]float64{"fast_period": 2, "slow_period": 3})
	if err != nil {
		t.Fatal(err)
	}

	// Down, cross up at index 4, cross back down at index 6. No latch:
	// the signal follows the comparison bar by bar.
	closes := []float64{100, 98, 96, 97, 100, 104, 90, 80}
	out, err := strat.GenerateSignals(closesFrame(closes))
	if err != nil {
		t.Fatalf("GenerateSignals() error: %v", err)
	}
	if out.Len() != len(closes) {
		t.Fatalf("output length %d, want %d", out.Len(), len(closes))
	}

	want := []float64{0, 0, 0, 0, 1, 1, 0, 0}
	got := signalValues(t, out)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !out.HasColumn("sma_fast") || !out.HasColumn("sma_slow") {
		t.Error("indicator columns missing")
	}
}

func TestSMACrossoverFlatSeries(t *testing.T) {
	t.Parallel()
	strat, _ := NewSMACrossover(map[string]float64{"fast_period": 2, "slow_period": 3})
	out, err := strat.GenerateSignals(closesFrame([]float64{50, 50, 50, 50, 50}))
	if err != nil {
		t.Fatal(err)
	}
	// Equal averages never read as a crossover.
	for i, v := range signalValues(t, out) {
		if v != 0 {
			t.Errorf("signal[%d] = %v, want 0 on a flat series", i, v)
		}
	}
}

func TestSMACrossoverSingleRow(t *testing.T) {
	t.Parallel()
	strat, _ := NewSMACrossover(nil)
	out, err := strat.GenerateSignals(closesFrame([]float64{100}))
	if err != nil {
		t.Fatal(err)
	}
	if got := signalValues(t, out); len(got) != 1 || got[0] != 0 {
		t.Errorf("signal = %v, want [0]", got)
	}
}

func TestSMACrossoverEventMode(t *testing.T) {
	t.Parallel()
	strat, _ := NewSMACrossover(map[string]float64{"fast_period": 2, "slow_period": 3})
	bus := backtest.NewBus()
	strat.Attach(bus)
	signals := collectSignals(bus)

	feedBars(bus, []float64{100, 98, 96, 97, 100, 104, 90, 80})

	if !strat.initialized {
		t.Error("strategy not initialized after slow window filled")
	}
	got := *signals
	if len(got) != 2 {
		t.Fatalf("got %d signals, want LONG then EXIT", len(got))
	}
	if got[0].Direction != types.SignalLong || got[0].Time != 4 {
		t.Errorf("first signal = %+v, want LONG at bar 4", got[0])
	}
	if got[1].Direction != types.SignalExit || got[1].Time != 6 {
		t.Errorf("second signal = %+v, want EXIT at bar 6", got[1])
	}
}

func TestSMACrossoverEventModeWithoutBus(t *testing.T) {
	t.Parallel()
	strat, _ := NewSMACrossover(map[string]float64{"fast_period": 2, "slow_period": 3})
	for i, c := range []float64{100, 98, 96, 97, 100, 104} {
		strat.OnBar(backtest.MarketEvent{Time: int64(i), Symbol: "TEST", Close: c, Volume: 100})
	}
	if !strat.initialized {
		t.Error("state must advance without a bus")
	}
	if !strat.long {
		t.Error("crossover not tracked without a bus")
	}
}
