package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"hermes/internal/frame"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFrame(symbol string, rows int) *frame.Frame {
	ts := make([]time.Time, rows)
	open := make([]float64, rows)
	high := make([]float64, rows)
	low := make([]float64, rows)
	closes := make([]float64, rows)
	vol := make([]float64, rows)
	start := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		c := 100 + float64(i)
		ts[i] = start.Add(time.Duration(i) * time.Minute)
		open[i], high[i], low[i], closes[i], vol[i] = c, c+1, c-1, c, 500
	}
	f := frame.New(ts, open, high, low, closes, vol)
	f.WithSymbol(symbol)
	f.SetColumn("oi", frame.NewSeries(make([]float64, rows)))
	return f
}

func TestFingerprintOrderIndependent(t *testing.T) {
	t.Parallel()
	a := Fingerprint([]string{"INFY", "TCS"}, "2024-01-01", "2024-06-30")
	b := Fingerprint([]string{"TCS", "INFY"}, "2024-01-01", "2024-06-30")
	if a != b {
		t.Errorf("fingerprint depends on symbol order: %s vs %s", a, b)
	}
	c := Fingerprint([]string{"INFY", "TCS"}, "2024-01-02", "2024-06-30")
	if a == c {
		t.Error("fingerprint ignores the date bounds")
	}
}

func TestMemoryGetSet(t *testing.T) {
	t.Parallel()
	c := NewMemory(64, discard())
	ctx := context.Background()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("hit on an empty cache")
	}

	f := testFrame("INFY", 100)
	c.Set(ctx, "k", f)
	got, ok := c.Get(ctx, "k")
	if !ok || got.Len() != 100 {
		t.Fatalf("Get() = (%v, %v), want the stored frame", got, ok)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 entry", s)
	}
}

func TestMemoryRejectsOversizedFrame(t *testing.T) {
	t.Parallel()
	// 1 MB budget; 20k rows at ~89 estimated bytes each do not fit.
	c := NewMemory(1, discard())
	c.Set(context.Background(), "big", testFrame("INFY", 20000))

	if _, ok := c.Get(context.Background(), "big"); ok {
		t.Error("oversized frame was cached")
	}
	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("entries = %d, want 0", s.Entries)
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := NewMemory(1, discard())
	ctx := context.Background()

	// Three ~435KB frames in a 1MB budget: only two fit.
	c.Set(ctx, "a", testFrame("A", 5000))
	c.Set(ctx, "b", testFrame("B", 5000))
	c.Get(ctx, "a") // promote a so b is the eviction candidate
	c.Set(ctx, "c", testFrame("C", 5000))

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Error("fresh entry was evicted")
	}
}

func TestMemoryClear(t *testing.T) {
	t.Parallel()
	c := NewMemory(64, discard())
	ctx := context.Background()
	c.Set(ctx, "k", testFrame("INFY", 10))
	c.Clear(ctx)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry survived Clear")
	}
	if s := c.Stats(); s.Entries != 0 || s.SizeMB != 0 {
		t.Errorf("stats after clear = %+v", s)
	}
}

func TestFrameCodecRoundTrip(t *testing.T) {
	t.Parallel()
	f := testFrame("INFY", 50)

	payload, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	got, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}

	if got.Len() != f.Len() {
		t.Fatalf("rows = %d, want %d", got.Len(), f.Len())
	}
	for i := 0; i < f.Len(); i++ {
		if !got.Timestamps[i].Equal(f.Timestamps[i]) || got.Close[i] != f.Close[i] ||
			got.Symbol(i) != "INFY" {
			t.Fatalf("row %d = %v %v %v, want original", i,
				got.Timestamps[i], got.Close[i], got.Symbol(i))
		}
	}
	if !got.HasColumn("oi") {
		t.Error("open interest column lost in round trip")
	}
}
