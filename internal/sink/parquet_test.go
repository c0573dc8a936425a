package sink

import (
	"testing"
	"time"

	"hermes/pkg/types"
)

func minuteCandles(start time.Time, closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    float64(100 * (i + 1)),
			OI:        float64(10 * i),
		}
	}
	return out
}

func TestParquetRoundTrip(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	candles := minuteCandles(start, 100, 101, 102)

	data, err := EncodeRows(RowsFromCandles("INFY", candles))
	if err != nil {
		t.Fatalf("EncodeRows() error: %v", err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		t.Fatalf("DecodeRows() error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for _, r := range rows {
		if r.Symbol != "INFY" {
			t.Errorf("symbol = %q, want INFY", r.Symbol)
		}
	}

	got := CandlesFromRows(rows)
	for i := range candles {
		if !got[i].Timestamp.Equal(candles[i].Timestamp) {
			t.Errorf("row %d timestamp = %v, want %v", i, got[i].Timestamp, candles[i].Timestamp)
		}
		if got[i] != candles[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], candles[i])
		}
	}
}

func TestMergeCandlesDedupesAndSorts(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	existing := minuteCandles(start, 100, 101, 102)

	// Overlap on the last stored minute with a corrected close, plus two
	// new minutes, delivered out of order.
	incoming := []types.Candle{
		{Timestamp: start.Add(4 * time.Minute), Close: 104},
		{Timestamp: start.Add(2 * time.Minute), Close: 999},
		{Timestamp: start.Add(3 * time.Minute), Close: 103},
	}

	merged := mergeCandles(existing, incoming)
	if len(merged) != 5 {
		t.Fatalf("got %d rows, want 5", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if !merged[i-1].Timestamp.Before(merged[i].Timestamp) {
			t.Fatalf("rows not strictly ascending at %d", i)
		}
	}
	if merged[2].Close != 999 {
		t.Errorf("overlapping row close = %v, want incoming value 999", merged[2].Close)
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()
	if got := objectKey("infy"); got != "INFY.parquet" {
		t.Errorf("objectKey = %q", got)
	}
	if sym, ok := symbolFromKey("RELIANCE.parquet"); !ok || sym != "RELIANCE" {
		t.Errorf("symbolFromKey = %q, %v", sym, ok)
	}
	if _, ok := symbolFromKey("notes.txt"); ok {
		t.Error("non-parquet key should not parse")
	}
}
