package backtest

import (
	"math"
	"testing"
	"time"

	"hermes/internal/frame"
)

func priceFrame(closes ...float64) *frame.Frame {
	n := len(closes)
	ts := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	vol := make([]float64, n)
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		ts[i] = start.Add(time.Duration(i) * time.Minute)
		open[i] = c
		high[i] = c * 1.01
		low[i] = c * 0.99
		vol[i] = 1000
	}
	return frame.New(ts, open, high, low, closes, vol)
}

func constSignal(f *frame.Frame, v float64) {
	vals := make([]float64, f.Len())
	for i := range vals {
		vals[i] = v
	}
	s := frame.NewSeries(vals)
	s.Kind = frame.Int
	f.SetColumn("signal", s)
}

func TestVectorEngineBuyAndHold(t *testing.T) {
	t.Parallel()
	f := priceFrame(100, 110, 121, 133.1)
	constSignal(f, 1)

	result, err := NewVectorEngine(100000).Run(f)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	equity, _ := result.Col("equity")
	// Flat on the first bar, then three 10% returns.
	want := 100000 * 1.1 * 1.1 * 1.1
	got := equity.Values[len(equity.Values)-1]
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("final equity = %v, want %v", got, want)
	}
}

func TestVectorEngineFirstBarFlat(t *testing.T) {
	t.Parallel()
	f := priceFrame(100, 120)
	constSignal(f, 1)

	result, err := NewVectorEngine(100000).Run(f)
	if err != nil {
		t.Fatal(err)
	}

	position, _ := result.Col("position")
	if position.Values[0] != 0 {
		t.Errorf("position[0] = %v, want 0: the first bar has no prior signal", position.Values[0])
	}
	strat, _ := result.Col("strategy_return")
	if strat.Values[0] != 0 {
		t.Errorf("strategy_return[0] = %v, want 0", strat.Values[0])
	}
	equity, _ := result.Col("equity")
	if equity.Values[0] != 100000 {
		t.Errorf("equity[0] = %v, want initial cash", equity.Values[0])
	}
}

func TestVectorEngineFlatSignalKeepsCash(t *testing.T) {
	t.Parallel()
	f := priceFrame(100, 90, 80, 120)
	constSignal(f, 0)

	result, err := NewVectorEngine(50000).Run(f)
	if err != nil {
		t.Fatal(err)
	}
	equity, _ := result.Col("equity")
	for i, v := range equity.Values {
		if v != 50000 {
			t.Errorf("equity[%d] = %v, want unchanged 50000", i, v)
		}
	}
}

func TestVectorEngineMissingSignal(t *testing.T) {
	t.Parallel()
	f := priceFrame(100, 110)
	if _, err := NewVectorEngine(100000).Run(f); err != ErrMissingSignal {
		t.Errorf("Run() error = %v, want ErrMissingSignal", err)
	}
}

func TestVectorEngineLagsSignalByOneBar(t *testing.T) {
	t.Parallel()
	f := priceFrame(100, 110, 121)
	// Signal fires only on the middle bar; its return lands on the last.
	s := frame.NewSeries([]float64{0, 1, 0})
	s.Kind = frame.Int
	f.SetColumn("signal", s)

	result, err := NewVectorEngine(100000).Run(f)
	if err != nil {
		t.Fatal(err)
	}
	strat, _ := result.Col("strategy_return")
	if strat.Values[1] != 0 {
		t.Errorf("strategy_return[1] = %v, want 0 (signal bar earns nothing)", strat.Values[1])
	}
	if math.Abs(strat.Values[2]-0.1) > 1e-12 {
		t.Errorf("strategy_return[2] = %v, want 0.1", strat.Values[2])
	}
}
