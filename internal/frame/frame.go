// Package frame implements the columnar OHLCV container the backtest
// pipeline operates on: typed base columns, named float columns with
// validity masks, and the window/resample/join primitives strategies
// are built from.
//
// Timestamps are exchange-local wall clock stored without a zone and
// treated as UTC for bucketing. A Frame is row-aligned: every column
// has exactly Len() entries.
package frame

import (
	"fmt"
	"math"
	"sort"
	"time"

	"hermes/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Series
// ————————————————————————————————————————————————————————————————————————

// Kind is the logical type of a column. Values are always stored as
// float64; Kind records what the numbers mean so chart export can tell
// real indicator series from encoded flags.
type Kind int

const (
	Float Kind = iota // continuous values, exported as indicators
	Int               // discrete values such as signal triggers
	Bool              // 0/1 flags such as trend gates
)

// Series is one column of float64 values with a validity mask.
// An invalid entry is a null: it has no value, and Values at that index
// is meaningless.
type Series struct {
	Values []float64
	Valid  []bool
	Kind   Kind
}

// NewSeries wraps values as a fully valid float series.
func NewSeries(values []float64) Series {
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	return Series{Values: values, Valid: valid}
}

// NullSeries returns a series of n nulls.
func NullSeries(n int) Series {
	return Series{Values: make([]float64, n), Valid: make([]bool, n)}
}

// Len returns the number of entries.
func (s Series) Len() int { return len(s.Values) }

// At returns the value at i and whether it is valid.
func (s Series) At(i int) (float64, bool) {
	return s.Values[i], s.Valid[i]
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	out := Series{
		Values: make([]float64, len(s.Values)),
		Valid:  make([]bool, len(s.Valid)),
		Kind:   s.Kind,
	}
	copy(out.Values, s.Values)
	copy(out.Valid, s.Valid)
	return out
}

// Shift returns the series moved forward by n rows (a lag). The first n
// entries become null. Negative n moves values backward, nulling the tail.
func (s Series) Shift(n int) Series {
	out := NullSeries(s.Len())
	out.Kind = s.Kind
	for i := range s.Values {
		j := i + n
		if j < 0 || j >= s.Len() {
			continue
		}
		out.Values[j] = s.Values[i]
		out.Valid[j] = s.Valid[i]
	}
	return out
}

// FillNull returns a copy with every null replaced by v.
func (s Series) FillNull(v float64) Series {
	out := s.Clone()
	for i := range out.Values {
		if !out.Valid[i] {
			out.Values[i] = v
			out.Valid[i] = true
		}
	}
	return out
}

// FillNaN returns a copy with every NaN value replaced by v.
// Nulls stay null.
func (s Series) FillNaN(v float64) Series {
	out := s.Clone()
	for i := range out.Values {
		if out.Valid[i] && math.IsNaN(out.Values[i]) {
			out.Values[i] = v
		}
	}
	return out
}

// ForwardFill returns a copy where each null takes the most recent valid
// value. Leading nulls stay null.
func (s Series) ForwardFill() Series {
	out := s.Clone()
	var last float64
	have := false
	for i := range out.Values {
		if out.Valid[i] {
			last = out.Values[i]
			have = true
			continue
		}
		if have {
			out.Values[i] = last
			out.Valid[i] = true
		}
	}
	return out
}

// take returns a copy with rows picked by idx, in idx order.
func (s Series) take(idx []int) Series {
	out := Series{
		Values: make([]float64, len(idx)),
		Valid:  make([]bool, len(idx)),
		Kind:   s.Kind,
	}
	for i, j := range idx {
		out.Values[i] = s.Values[j]
		out.Valid[i] = s.Valid[j]
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Frame
// ————————————————————————————————————————————————————————————————————————

// Column is a named extra series carried alongside the base OHLCV columns.
type Column struct {
	Name   string
	Series Series
}

// Frame is a row-aligned OHLCV table. Base columns are typed fields;
// everything else (open interest, indicators, signals) lives in cols in
// insertion order. Symbols is nil for frames without a symbol column.
type Frame struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
	Symbols    []string

	cols []Column
}

// Base column names. Anything else on a frame is an extra column.
var baseColumns = map[string]bool{
	"timestamp": true,
	"open":      true,
	"high":      true,
	"low":       true,
	"close":     true,
	"volume":    true,
	"symbol":    true,
}

// IsBaseColumn reports whether name is one of the fixed OHLCV columns.
func IsBaseColumn(name string) bool { return baseColumns[name] }

// New builds a frame from base columns. All slices must share one length.
func New(ts []time.Time, open, high, low, closes, volume []float64) *Frame {
	return &Frame{
		Timestamps: ts,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closes,
		Volume:     volume,
	}
}

// FromCandles builds a single-symbol frame, carrying open interest as the
// extra column "oi".
func FromCandles(symbol string, candles []types.Candle) *Frame {
	n := len(candles)
	f := &Frame{
		Timestamps: make([]time.Time, n),
		Open:       make([]float64, n),
		High:       make([]float64, n),
		Low:        make([]float64, n),
		Close:      make([]float64, n),
		Volume:     make([]float64, n),
		Symbols:    make([]string, n),
	}
	oi := make([]float64, n)
	for i, c := range candles {
		f.Timestamps[i] = c.Timestamp
		f.Open[i] = c.Open
		f.High[i] = c.High
		f.Low[i] = c.Low
		f.Close[i] = c.Close
		f.Volume[i] = c.Volume
		f.Symbols[i] = symbol
		oi[i] = c.OI
	}
	f.SetColumn("oi", NewSeries(oi))
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Timestamps) }

// Candle returns row i as a candle. Open interest comes from the "oi"
// column when present.
func (f *Frame) Candle(i int) types.Candle {
	c := types.Candle{
		Timestamp: f.Timestamps[i],
		Open:      f.Open[i],
		High:      f.High[i],
		Low:       f.Low[i],
		Close:     f.Close[i],
		Volume:    f.Volume[i],
	}
	if oi, ok := f.Col("oi"); ok {
		if v, valid := oi.At(i); valid {
			c.OI = v
		}
	}
	return c
}

// Symbol returns the symbol of row i, or "" for frames without one.
func (f *Frame) Symbol(i int) string {
	if f.Symbols == nil {
		return ""
	}
	return f.Symbols[i]
}

// WithSymbol sets a constant symbol column on every row.
func (f *Frame) WithSymbol(symbol string) {
	f.Symbols = make([]string, f.Len())
	for i := range f.Symbols {
		f.Symbols[i] = symbol
	}
}

// SetColumn adds or replaces the extra column name.
func (f *Frame) SetColumn(name string, s Series) {
	for i := range f.cols {
		if f.cols[i].Name == name {
			f.cols[i].Series = s
			return
		}
	}
	f.cols = append(f.cols, Column{Name: name, Series: s})
}

// Col returns the extra column name, if present.
func (f *Frame) Col(name string) (Series, bool) {
	for i := range f.cols {
		if f.cols[i].Name == name {
			return f.cols[i].Series, true
		}
	}
	return Series{}, false
}

// HasColumn reports whether the extra column name exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.Col(name)
	return ok
}

// ColumnNames returns extra column names in insertion order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.cols))
	for i := range f.cols {
		names[i] = f.cols[i].Name
	}
	return names
}

// DropColumns removes the named extra columns; unknown names are ignored.
func (f *Frame) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	return f.take(idx)
}

// take returns a new frame with rows picked by idx, in idx order.
func (f *Frame) take(idx []int) *Frame {
	out := &Frame{
		Timestamps: make([]time.Time, len(idx)),
		Open:       make([]float64, len(idx)),
		High:       make([]float64, len(idx)),
		Low:        make([]float64, len(idx)),
		Close:      make([]float64, len(idx)),
		Volume:     make([]float64, len(idx)),
	}
	if f.Symbols != nil {
		out.Symbols = make([]string, len(idx))
	}
	for i, j := range idx {
		out.Timestamps[i] = f.Timestamps[j]
		out.Open[i] = f.Open[j]
		out.High[i] = f.High[j]
		out.Low[i] = f.Low[j]
		out.Close[i] = f.Close[j]
		out.Volume[i] = f.Volume[j]
		if out.Symbols != nil {
			out.Symbols[i] = f.Symbols[j]
		}
	}
	out.cols = make([]Column, len(f.cols))
	for i, c := range f.cols {
		out.cols[i] = Column{Name: c.Name, Series: c.Series.take(idx)}
	}
	return out
}

// Filter returns the rows where keep is true, preserving order.
func (f *Frame) Filter(keep []bool) *Frame {
	idx := make([]int, 0, f.Len())
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return f.take(idx)
}

// Slice returns rows [lo, hi) as a new frame.
func (f *Frame) Slice(lo, hi int) *Frame {
	idx := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		idx = append(idx, i)
	}
	return f.take(idx)
}

// SortByTime stable-sorts the frame by (timestamp, symbol) in place.
func (f *Frame) SortByTime() {
	if f.isSortedByTime() {
		return
	}
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := f.Timestamps[idx[a]], f.Timestamps[idx[b]]
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		if f.Symbols != nil {
			return f.Symbols[idx[a]] < f.Symbols[idx[b]]
		}
		return false
	})
	*f = *f.take(idx)
}

func (f *Frame) isSortedByTime() bool {
	for i := 1; i < f.Len(); i++ {
		if f.Timestamps[i].Before(f.Timestamps[i-1]) {
			return false
		}
		if f.Timestamps[i].Equal(f.Timestamps[i-1]) && f.Symbols != nil && f.Symbols[i] < f.Symbols[i-1] {
			return false
		}
	}
	return true
}

// FilterRange keeps rows with start <= timestamp <= end. A zero bound is
// open on that side. Note the end bound is the midnight instant of the end
// date, matching how date-only request bounds behave upstream.
func (f *Frame) FilterRange(start, end time.Time) *Frame {
	keep := make([]bool, f.Len())
	for i, ts := range f.Timestamps {
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		keep[i] = true
	}
	return f.Filter(keep)
}

// Guard drops rows that fail basic price integrity: every OHLC value must
// be a positive number, the high must bound open/close/low from above and
// the low from below. Returns the cleaned frame and how many rows fell.
func (f *Frame) Guard() (*Frame, int) {
	keep := make([]bool, f.Len())
	dropped := 0
	for i := range f.Timestamps {
		o, h, l, c := f.Open[i], f.High[i], f.Low[i], f.Close[i]
		ok := o > 0 && h > 0 && l > 0 && c > 0 &&
			h >= l && h >= o && h >= c &&
			l <= o && l <= c
		keep[i] = ok
		if !ok {
			dropped++
		}
	}
	if dropped == 0 {
		return f, 0
	}
	return f.Filter(keep), dropped
}

// Concat stacks frames vertically. Every frame must carry the same extra
// columns; symbol columns are required on all frames or none.
func Concat(frames []*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("concat: no frames")
	}
	first := frames[0]
	total := 0
	for _, fr := range frames {
		total += fr.Len()
		if (fr.Symbols == nil) != (first.Symbols == nil) {
			return nil, fmt.Errorf("concat: mixed symbol columns")
		}
		if len(fr.cols) != len(first.cols) {
			return nil, fmt.Errorf("concat: column mismatch: %v vs %v", fr.ColumnNames(), first.ColumnNames())
		}
		for i := range fr.cols {
			if fr.cols[i].Name != first.cols[i].Name {
				return nil, fmt.Errorf("concat: column mismatch: %v vs %v", fr.ColumnNames(), first.ColumnNames())
			}
		}
	}

	out := &Frame{
		Timestamps: make([]time.Time, 0, total),
		Open:       make([]float64, 0, total),
		High:       make([]float64, 0, total),
		Low:        make([]float64, 0, total),
		Close:      make([]float64, 0, total),
		Volume:     make([]float64, 0, total),
	}
	if first.Symbols != nil {
		out.Symbols = make([]string, 0, total)
	}
	for i := range first.cols {
		out.cols = append(out.cols, Column{
			Name: first.cols[i].Name,
			Series: Series{
				Values: make([]float64, 0, total),
				Valid:  make([]bool, 0, total),
				Kind:   first.cols[i].Series.Kind,
			},
		})
	}

	for _, fr := range frames {
		out.Timestamps = append(out.Timestamps, fr.Timestamps...)
		out.Open = append(out.Open, fr.Open...)
		out.High = append(out.High, fr.High...)
		out.Low = append(out.Low, fr.Low...)
		out.Close = append(out.Close, fr.Close...)
		out.Volume = append(out.Volume, fr.Volume...)
		if out.Symbols != nil {
			out.Symbols = append(out.Symbols, fr.Symbols...)
		}
		for i := range out.cols {
			out.cols[i].Series.Values = append(out.cols[i].Series.Values, fr.cols[i].Series.Values...)
			out.cols[i].Series.Valid = append(out.cols[i].Series.Valid, fr.cols[i].Series.Valid...)
		}
	}
	return out, nil
}
