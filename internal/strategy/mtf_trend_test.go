package strategy

import (
	"testing"
	"time"

	"hermes/internal/frame"
)

// dayFrame builds minute bars from per-day close lists, one trading day
// per outer slice starting 2024-01-01.
func dayFrame(dayCloses [][]float64) *frame.Frame {
	var (
		ts     []time.Time
		open   []float64
		high   []float64
		low    []float64
		closes []float64
		vol    []float64
	)
	for d, day := range dayCloses {
		start := time.Date(2024, 1, 1+d, 9, 15, 0, 0, time.UTC)
		for i, c := range day {
			ts = append(ts, start.Add(time.Duration(i)*time.Minute))
			open = append(open, c)
			high = append(high, c+1)
			low = append(low, c-1)
			closes = append(closes, c)
			vol = append(vol, 100)
		}
	}
	return frame.New(ts, open, high, low, closes, vol)
}

var mtfTestParams = map[string]float64{
	"fast_period": 2, "slow_period": 3, "rsi_period": 2,
}

func TestMTFTrendGateBlocksDowntrendDips(t *testing.T) {
	t.Parallel()
	strat, err := NewMTFTrendFollowingStrategy(mtfTestParams)
	if err != nil {
		t.Fatal(err)
	}

	// Every day falls, so RSI spends the run oversold while the daily
	// trend gate never opens. No buy may survive.
	days := make([][]float64, 5)
	for d := range days {
		base := 200 - 10*float64(d)
		days[d] = []float64{base, base - 1, base - 2}
	}
	out, err := strat.GenerateSignals(dayFrame(days))
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range signalValues(t, out) {
		if v != 0 {
			t.Errorf("signal[%d] = %v, want 0: the trend gate is closed", i, v)
		}
	}
}

func TestMTFTrendBuysDipInUptrend(t *testing.T) {
	t.Parallel()
	strat, _ := NewMTFTrendFollowingStrategy(mtfTestParams)

	// Four rising days arm the trend gate; the fifth day sells off hard
	// enough to push minute RSI oversold while the daily trend is still up.
	days := [][]float64{
		{100, 101, 102},
		{110, 111, 112},
		{120, 121, 122},
		{130, 131, 132},
		{140, 130, 120},
	}
	out, err := strat.GenerateSignals(dayFrame(days))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 15 {
		t.Fatalf("output length %d, want 15", out.Len())
	}

	sig := signalValues(t, out)
	if sig[0] != 0 {
		t.Errorf("signal[0] = %v, want flat during warm-up", sig[0])
	}
	if sig[len(sig)-1] != 1 {
		t.Error("dip in an up-trend must end long")
	}
	if !out.HasColumn("rsi") || !out.HasColumn("bullish_trend_htf") {
		t.Error("indicator columns missing")
	}
}

func TestMTFTrendLossFlattens(t *testing.T) {
	t.Parallel()
	strat, _ := NewMTFTrendFollowingStrategy(mtfTestParams)

	// Same dip-buy setup plus a crash day that flips the daily averages.
	// RSI stays oversold, but losing the trend must flatten anyway.
	days := [][]float64{
		{100, 101, 102},
		{110, 111, 112},
		{120, 121, 122},
		{130, 131, 132},
		{140, 130, 120},
		{90, 85, 80},
	}
	out, err := strat.GenerateSignals(dayFrame(days))
	if err != nil {
		t.Fatal(err)
	}

	sig := signalValues(t, out)
	if sig[len(sig)-1] != 0 {
		t.Error("trend loss must flatten the position")
	}

	trend, _ := out.Col("bullish_trend_htf")
	if v, ok := trend.At(out.Len() - 1); !ok || v != 0 {
		t.Errorf("terminal trend flag = %v (valid %v), want bearish", v, ok)
	}
}
