package frame

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRollingMean(t *testing.T) {
	t.Parallel()

	got := RollingMean([]float64{1, 2, 3, 4, 5}, 3)

	if got.Valid[0] || got.Valid[1] {
		t.Errorf("warm-up entries valid, want null: %v", got.Valid)
	}
	want := []float64{0, 0, 2, 3, 4}
	for i := 2; i < 5; i++ {
		if !got.Valid[i] || !almostEqual(got.Values[i], want[i]) {
			t.Errorf("RollingMean[%d] = %v, want %v", i, got.Values[i], want[i])
		}
	}
}

func TestRollingStd(t *testing.T) {
	t.Parallel()

	got := RollingStd([]float64{1, 2, 3, 4}, 3)

	if got.Valid[0] || got.Valid[1] {
		t.Errorf("warm-up entries valid, want null")
	}
	// Sample std of {1,2,3} and {2,3,4} is 1.
	for i := 2; i < 4; i++ {
		if !almostEqual(got.Values[i], 1) {
			t.Errorf("RollingStd[%d] = %v, want 1", i, got.Values[i])
		}
	}

	flat := RollingStd([]float64{100, 100, 100, 100}, 3)
	for i := 2; i < 4; i++ {
		if flat.Values[i] != 0 {
			t.Errorf("flat series std[%d] = %v, want 0", i, flat.Values[i])
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	got := Diff([]float64{5, 7, 4})

	if got.Valid[0] {
		t.Errorf("Diff[0] valid, want null")
	}
	if got.Values[1] != 2 || got.Values[2] != -3 {
		t.Errorf("Diff = %v, want [_ 2 -3]", got.Values)
	}
}

func TestEWMMeanCom(t *testing.T) {
	t.Parallel()

	// com=1 means alpha=0.5; with adjusted weights the second output is
	// (0.5*2 + 1*4) / (0.5 + 1) = 10/3.
	got := EWMMeanCom([]float64{2, 4}, 1, 1)
	if !almostEqual(got.Values[0], 2) {
		t.Errorf("EWMMeanCom[0] = %v, want 2", got.Values[0])
	}
	if !almostEqual(got.Values[1], 10.0/3.0) {
		t.Errorf("EWMMeanCom[1] = %v, want %v", got.Values[1], 10.0/3.0)
	}

	gated := EWMMeanCom([]float64{2, 4, 4}, 1, 2)
	if gated.Valid[0] {
		t.Errorf("minSamples=2 left index 0 valid")
	}
	if !gated.Valid[1] || !gated.Valid[2] {
		t.Errorf("entries past the sample minimum are null: %v", gated.Valid)
	}
}

func TestEWMMeanSpan(t *testing.T) {
	t.Parallel()

	// span=3 means alpha=0.5 with the recursive form: y0=2, y1=3, y2=3.5.
	got := EWMMeanSpan([]float64{2, 4, 4}, 3)

	want := []float64{2, 3, 3.5}
	for i := range want {
		if !got.Valid[i] || !almostEqual(got.Values[i], want[i]) {
			t.Errorf("EWMMeanSpan[%d] = %v, want %v", i, got.Values[i], want[i])
		}
	}
}
