package frame

import "math"

// Window functions over plain float64 columns. Outputs carry validity
// masks: an entry is null until the window (or sample minimum) is filled,
// matching how the analysis layer treats warm-up rows.

// RollingMean returns the simple moving average over a fixed window.
// Entries before the window fills are null.
func RollingMean(vals []float64, window int) Series {
	out := NullSeries(len(vals))
	if window <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			out.Values[i] = sum / float64(window)
			out.Valid[i] = true
		}
	}
	return out
}

// RollingStd returns the sample standard deviation (one delta degree of
// freedom) over a fixed window. Entries before the window fills are null,
// and a window below two yields all nulls.
func RollingStd(vals []float64, window int) Series {
	out := NullSeries(len(vals))
	if window < 2 {
		return out
	}
	sum, sumSq := 0.0, 0.0
	for i, v := range vals {
		sum += v
		sumSq += v * v
		if i >= window {
			sum -= vals[i-window]
			sumSq -= vals[i-window] * vals[i-window]
		}
		if i >= window-1 {
			n := float64(window)
			variance := (sumSq - sum*sum/n) / (n - 1)
			if variance < 0 {
				variance = 0
			}
			out.Values[i] = math.Sqrt(variance)
			out.Valid[i] = true
		}
	}
	return out
}

// Diff returns vals[i] - vals[i-1] with a null first entry.
func Diff(vals []float64) Series {
	out := NullSeries(len(vals))
	for i := 1; i < len(vals); i++ {
		out.Values[i] = vals[i] - vals[i-1]
		out.Valid[i] = true
	}
	return out
}

// EWMMeanCom returns the exponentially weighted mean parameterized by
// center of mass, with bias-adjusted weights: each output is the weighted
// average of all samples seen so far with weights (1-alpha)^age. Entries
// are null until minSamples values have been seen. alpha = 1/(1+com).
func EWMMeanCom(vals []float64, com float64, minSamples int) Series {
	out := NullSeries(len(vals))
	alpha := 1.0 / (1.0 + com)
	decay := 1.0 - alpha
	num, den := 0.0, 0.0
	for i, v := range vals {
		num = v + decay*num
		den = 1 + decay*den
		if i+1 >= minSamples {
			out.Values[i] = num / den
			out.Valid[i] = true
		}
	}
	return out
}

// EWMMeanSpan returns the recursive exponentially weighted mean
// parameterized by span: y[0] = x[0], y[i] = (1-alpha)*y[i-1] + alpha*x[i]
// with alpha = 2/(span+1). All entries are valid.
func EWMMeanSpan(vals []float64, span float64) Series {
	out := NullSeries(len(vals))
	if len(vals) == 0 {
		return out
	}
	alpha := 2.0 / (span + 1.0)
	y := vals[0]
	out.Values[0] = y
	out.Valid[0] = true
	for i := 1; i < len(vals); i++ {
		y = (1-alpha)*y + alpha*vals[i]
		out.Values[i] = y
		out.Valid[i] = true
	}
	return out
}
