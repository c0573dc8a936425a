package sink

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLocalSink(t *testing.T) *LocalSink {
	t.Helper()
	s, err := NewLocalSink(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLocalSinkWriteRead(t *testing.T) {
	t.Parallel()
	s := testLocalSink(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

	n, err := s.Write(ctx, "INFY", minuteCandles(start, 100, 101, 102))
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if n != 3 {
		t.Errorf("Write() = %d rows, want 3", n)
	}

	got, err := s.Read(ctx, "INFY")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(got) != 3 || got[2].Close != 102 {
		t.Errorf("Read() = %d rows, last close %v", len(got), got[len(got)-1].Close)
	}
}

func TestLocalSinkReadMissing(t *testing.T) {
	t.Parallel()
	s := testLocalSink(t)

	got, err := s.Read(context.Background(), "MISSING")
	if err != nil {
		t.Fatalf("Read() error for absent symbol: %v", err)
	}
	if got != nil {
		t.Errorf("Read() = %v, want nil for absent symbol", got)
	}

	if _, ok, err := s.LastTimestamp(context.Background(), "MISSING"); err != nil || ok {
		t.Errorf("LastTimestamp() = ok %v, err %v; want false, nil", ok, err)
	}
}

// Re-running an ingest over an already stored range must not duplicate rows
// and must extend the file with the genuinely new ones.
func TestLocalSinkResumeIdempotent(t *testing.T) {
	t.Parallel()
	s := testLocalSink(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

	if _, err := s.Write(ctx, "INFY", minuteCandles(start, 100, 101, 102)); err != nil {
		t.Fatal(err)
	}

	// Second pass overlaps the last two minutes and adds two more.
	overlap := minuteCandles(start.Add(1*time.Minute), 101, 102, 103, 104)
	n, err := s.Write(ctx, "INFY", overlap)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("merged count = %d, want 5", n)
	}

	ts, ok, err := s.LastTimestamp(ctx, "INFY")
	if err != nil || !ok {
		t.Fatalf("LastTimestamp() = ok %v, err %v", ok, err)
	}
	if want := start.Add(4 * time.Minute); !ts.Equal(want) {
		t.Errorf("LastTimestamp() = %v, want %v", ts, want)
	}

	// Writing the identical batch again changes nothing.
	if n, err := s.Write(ctx, "INFY", overlap); err != nil || n != 5 {
		t.Errorf("idempotent rewrite = %d rows, err %v; want 5, nil", n, err)
	}
}

func TestLocalSinkExistsAndList(t *testing.T) {
	t.Parallel()
	s := testLocalSink(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

	for _, sym := range []string{"RELIANCE", "INFY", "TCS"} {
		if _, err := s.Write(ctx, sym, minuteCandles(start, 100)); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := s.Exists(ctx, "INFY")
	if err != nil || !ok {
		t.Errorf("Exists(INFY) = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, "WIPRO")
	if err != nil || ok {
		t.Errorf("Exists(WIPRO) = %v, %v; want false", ok, err)
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"INFY", "RELIANCE", "TCS"}
	if len(symbols) != len(want) {
		t.Fatalf("ListSymbols() = %v", symbols)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Errorf("ListSymbols()[%d] = %q, want %q (sorted)", i, symbols[i], want[i])
		}
	}
}

func TestLocalSinkSymbolCaseInsensitive(t *testing.T) {
	t.Parallel()
	s := testLocalSink(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

	if _, err := s.Write(ctx, "infy", minuteCandles(start, 100)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read(ctx, "INFY")
	if err != nil || len(got) != 1 {
		t.Errorf("Read(INFY) after Write(infy) = %d rows, err %v", len(got), err)
	}
}
