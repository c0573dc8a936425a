package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"hermes/internal/config"
	"hermes/internal/source"
	"hermes/pkg/types"
)

type fakeStream struct {
	chunks []source.Chunk
	err    error
	i      int
}

func (s *fakeStream) Next(ctx context.Context) (source.Chunk, bool, error) {
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return c, true, nil
	}
	if s.err != nil {
		return source.Chunk{}, false, s.err
	}
	return source.Chunk{}, false, nil
}

type fakeSource struct {
	mu          sync.Mutex
	instruments []types.Instrument
	chunks      map[string][]source.Chunk
	streamErr   map[string]error
	fetchFrom   map[string]time.Time
	closed      int
}

func (f *fakeSource) Instruments() ([]types.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeSource) FetchChunks(symbol string, token int64, from, to time.Time) source.ChunkStream {
	f.mu.Lock()
	if f.fetchFrom == nil {
		f.fetchFrom = make(map[string]time.Time)
	}
	f.fetchFrom[symbol] = from
	f.mu.Unlock()
	return &fakeStream{chunks: f.chunks[symbol], err: f.streamErr[symbol]}
}

func (f *fakeSource) CalculateChunks(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24/60) + 1
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	stored map[string][]types.Candle
	failOn string
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: make(map[string][]types.Candle)}
}

func (f *fakeSink) Write(ctx context.Context, symbol string, candles []types.Candle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbol == f.failOn {
		return 0, errors.New("disk full")
	}
	f.stored[symbol] = append(f.stored[symbol], candles...)
	return len(f.stored[symbol]), nil
}

func (f *fakeSink) Read(ctx context.Context, symbol string) ([]types.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[symbol], nil
}

func (f *fakeSink) Exists(ctx context.Context, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored[symbol]) > 0, nil
}

func (f *fakeSink) ListSymbols(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for s := range f.stored {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSink) LastTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.stored[symbol]
	if len(cs) == 0 {
		return time.Time{}, false, nil
	}
	return cs[len(cs)-1].Timestamp, true, nil
}

func (f *fakeSink) Close() error { return nil }

func candleAt(ts time.Time) types.Candle {
	return types.Candle{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
}

func testOrchestrator(src *fakeSource, snk *fakeSink) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.SourceConfig{StartDate: "2024-01-01", Concurrency: 2, ChunkDays: 60}
	o := NewOrchestrator(src, snk, cfg, nil, logger)
	o.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestFetchSymbolWritesChunks(t *testing.T) {
	t.Parallel()
	day1 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	src := &fakeSource{chunks: map[string][]source.Chunk{
		"INFY": {
			{Candles: []types.Candle{candleAt(day1)}},
			{Candles: nil}, // holiday window
			{Candles: []types.Candle{candleAt(day1.Add(time.Minute))}},
		},
	}}
	snk := newFakeSink()
	o := testOrchestrator(src, snk)

	if ok := o.FetchSymbol(context.Background(), "INFY", 1); !ok {
		t.Fatal("FetchSymbol() = false, want true")
	}
	if got := len(snk.stored["INFY"]); got != 2 {
		t.Errorf("stored %d rows, want 2", got)
	}
	if from := src.fetchFrom["INFY"]; !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("fetch started at %v, want configured default", from)
	}
}

func TestFetchSymbolResumesFromLastStoredDay(t *testing.T) {
	t.Parallel()
	src := &fakeSource{chunks: map[string][]source.Chunk{}}
	snk := newFakeSink()
	snk.stored["INFY"] = []types.Candle{
		candleAt(time.Date(2024, 3, 15, 15, 29, 0, 0, time.UTC)),
	}
	o := testOrchestrator(src, snk)

	if ok := o.FetchSymbol(context.Background(), "INFY", 1); !ok {
		t.Fatal("FetchSymbol() = false, want true")
	}
	// Resume re-fetches the partially stored day; dedupe handles overlap.
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if from := src.fetchFrom["INFY"]; !from.Equal(want) {
		t.Errorf("resume start = %v, want %v", from, want)
	}
}

func TestFetchSymbolAlreadyUpToDate(t *testing.T) {
	t.Parallel()
	src := &fakeSource{chunks: map[string][]source.Chunk{}}
	snk := newFakeSink()
	// The last candle falls on the sync day itself, so the resume start
	// equals the end bound and nothing is fetched.
	snk.stored["INFY"] = []types.Candle{
		candleAt(time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC)),
	}
	o := testOrchestrator(src, snk)

	if ok := o.FetchSymbol(context.Background(), "INFY", 1); !ok {
		t.Fatal("FetchSymbol() = false, want true")
	}
	if from, fetched := src.fetchFrom["INFY"]; fetched {
		t.Errorf("fetched from %v, want no fetch for an up-to-date symbol", from)
	}
}

func TestFetchSymbolStreamFailure(t *testing.T) {
	t.Parallel()
	day1 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	src := &fakeSource{
		chunks:    map[string][]source.Chunk{"INFY": {{Candles: []types.Candle{candleAt(day1)}}}},
		streamErr: map[string]error{"INFY": errors.New("retries exhausted")},
	}
	snk := newFakeSink()
	o := testOrchestrator(src, snk)

	if ok := o.FetchSymbol(context.Background(), "INFY", 1); ok {
		t.Fatal("FetchSymbol() = true, want false on stream error")
	}
	// The chunk fetched before the failure stays written.
	if got := len(snk.stored["INFY"]); got != 1 {
		t.Errorf("stored %d rows, want 1", got)
	}
}

func TestSyncFilterLimitAndOutcome(t *testing.T) {
	t.Parallel()
	day1 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	src := &fakeSource{
		instruments: []types.Instrument{
			{Token: 1, Symbol: "INFY"},
			{Token: 2, Symbol: "RELIANCE"},
			{Token: 3, Symbol: "TCS"},
		},
		chunks: map[string][]source.Chunk{
			"INFY":     {{Candles: []types.Candle{candleAt(day1)}}},
			"RELIANCE": {{Candles: []types.Candle{candleAt(day1)}}},
		},
	}
	snk := newFakeSink()
	snk.failOn = "RELIANCE"
	o := testOrchestrator(src, snk)

	results, err := o.Sync(context.Background(), []string{"infy", "reliance"}, 0, 2)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 symbols", results)
	}
	if !results["INFY"] || results["RELIANCE"] {
		t.Errorf("results = %v, want INFY true, RELIANCE false", results)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestSyncLimit(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		instruments: []types.Instrument{
			{Token: 1, Symbol: "A"}, {Token: 2, Symbol: "B"}, {Token: 3, Symbol: "C"},
		},
		chunks: map[string][]source.Chunk{},
	}
	o := testOrchestrator(src, newFakeSink())

	results, err := o.Sync(context.Background(), nil, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("limit ignored: got %d results", len(results))
	}
}

func TestSyncNoInstruments(t *testing.T) {
	t.Parallel()
	src := &fakeSource{instruments: []types.Instrument{{Token: 1, Symbol: "INFY"}}}
	o := testOrchestrator(src, newFakeSink())

	results, err := o.Sync(context.Background(), []string{"MISSING"}, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

func TestLogTrackerSummary(t *testing.T) {
	t.Parallel()
	tr := NewLogTracker(slog.New(slog.NewTextHandler(io.Discard, nil)), true)
	tr.Start(2)
	tr.StartSymbol("INFY", 4)
	tr.UpdateSymbol("INFY", 1, 300)
	tr.UpdateSymbol("INFY", 1, 200)
	tr.CompleteSymbol("INFY", true)
	tr.StartSymbol("TCS", 4)
	tr.CompleteSymbol("TCS", false)

	summary := tr.Stop()
	if p := summary["INFY"]; p.CompletedChunks != 2 || p.RowsWritten != 500 || p.Status != StatusComplete {
		t.Errorf("INFY summary = %+v", p)
	}
	if p := summary["TCS"]; p.Status != StatusFailed {
		t.Errorf("TCS status = %v, want failed", p.Status)
	}
}
