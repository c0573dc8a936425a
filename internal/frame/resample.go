package frame

import (
	"time"
)

// bucketRuns walks the frame in time order and yields [lo, hi) row ranges
// that share a truncated timestamp. The input must be sorted by time.
func (f *Frame) bucketRuns(every time.Duration, fn func(label time.Time, lo, hi int)) {
	n := f.Len()
	lo := 0
	for lo < n {
		label := f.Timestamps[lo].Truncate(every)
		hi := lo + 1
		for hi < n && f.Timestamps[hi].Truncate(every).Equal(label) {
			hi++
		}
		fn(label, lo, hi)
		lo = hi
	}
}

// sortedForResample returns the frame itself when already time-sorted,
// otherwise a sorted copy. Resampling never mutates its input.
func (f *Frame) sortedForResample() *Frame {
	if f.isSortedByTime() {
		return f
	}
	sorted := f.Clone()
	sorted.SortByTime()
	return sorted
}

// ResampleOHLCV aggregates rows into buckets of the given width labeled by
// window start: open first, high max, low min, close last, volume sum and
// symbol first. Extra columns are dropped. Only buckets that contain rows
// appear in the output.
func (f *Frame) ResampleOHLCV(every time.Duration) *Frame {
	src := f.sortedForResample()
	out := &Frame{}
	if src.Symbols != nil {
		out.Symbols = []string{}
	}
	src.bucketRuns(every, func(label time.Time, lo, hi int) {
		high, low, volume := src.High[lo], src.Low[lo], 0.0
		for i := lo; i < hi; i++ {
			if src.High[i] > high {
				high = src.High[i]
			}
			if src.Low[i] < low {
				low = src.Low[i]
			}
			volume += src.Volume[i]
		}
		out.Timestamps = append(out.Timestamps, label)
		out.Open = append(out.Open, src.Open[lo])
		out.High = append(out.High, high)
		out.Low = append(out.Low, low)
		out.Close = append(out.Close, src.Close[hi-1])
		out.Volume = append(out.Volume, volume)
		if out.Symbols != nil {
			out.Symbols = append(out.Symbols, src.Symbols[lo])
		}
	})
	return out
}

// Columns the chart downsample never carries over: the engine rebuilds or
// re-derives these at its own resolution.
var downsampleExclude = map[string]bool{
	"signal":          true,
	"position":        true,
	"strategy_return": true,
	"equity":          true,
	"trade_action":    true,
}

// Downsample aggregates like ResampleOHLCV but keeps equity and float
// indicator columns by their last value in each bucket, then drops any
// bucket where a kept column is null. The symbol column is dropped. This
// is the shape chart endpoints and analysis resampling consume.
func (f *Frame) Downsample(every time.Duration) *Frame {
	src := f.sortedForResample()

	keep := make([]Column, 0, len(src.cols))
	if eq, ok := src.Col("equity"); ok {
		keep = append(keep, Column{Name: "equity", Series: eq})
	}
	for _, c := range src.cols {
		if c.Name == "equity" || c.Series.Kind != Float || downsampleExclude[c.Name] {
			continue
		}
		keep = append(keep, c)
	}

	out := &Frame{}
	for _, c := range keep {
		out.cols = append(out.cols, Column{Name: c.Name, Series: Series{Kind: c.Series.Kind}})
	}

	src.bucketRuns(every, func(label time.Time, lo, hi int) {
		// drop_nulls: a bucket whose last values include a null vanishes
		last := hi - 1
		for _, c := range keep {
			if !c.Series.Valid[last] {
				return
			}
		}

		high, low, volume := src.High[lo], src.Low[lo], 0.0
		for i := lo; i < hi; i++ {
			if src.High[i] > high {
				high = src.High[i]
			}
			if src.Low[i] < low {
				low = src.Low[i]
			}
			volume += src.Volume[i]
		}
		out.Timestamps = append(out.Timestamps, label)
		out.Open = append(out.Open, src.Open[lo])
		out.High = append(out.High, high)
		out.Low = append(out.Low, low)
		out.Close = append(out.Close, src.Close[hi-1])
		out.Volume = append(out.Volume, volume)
		for i, c := range keep {
			out.cols[i].Series.Values = append(out.cols[i].Series.Values, c.Series.Values[last])
			out.cols[i].Series.Valid = append(out.cols[i].Series.Valid, true)
		}
	})
	return out
}

// JoinColumn maps a column name on the right frame to its name in the
// joined output.
type JoinColumn struct {
	From string
	To   string
}

// JoinAsof copies the named right-frame columns onto the left frame using
// a backward as-of match: each left row takes the values from the latest
// right row whose timestamp is not after it. Left rows before the first
// right row get nulls. Both frames must be sorted by time.
func (f *Frame) JoinAsof(right *Frame, cols []JoinColumn) *Frame {
	out := f.Clone()
	n := out.Len()

	joined := make([]Series, len(cols))
	src := make([]Series, len(cols))
	for k, jc := range cols {
		s, ok := right.Col(jc.From)
		if !ok {
			s = NullSeries(right.Len())
		}
		src[k] = s
		joined[k] = NullSeries(n)
		joined[k].Kind = s.Kind
	}

	j := -1
	for i := 0; i < n; i++ {
		for j+1 < right.Len() && !right.Timestamps[j+1].After(out.Timestamps[i]) {
			j++
		}
		if j < 0 {
			continue
		}
		for k := range cols {
			joined[k].Values[i] = src[k].Values[j]
			joined[k].Valid[i] = src[k].Valid[j]
		}
	}

	for k, jc := range cols {
		out.SetColumn(jc.To, joined[k])
	}
	return out
}
