package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hermes/internal/config"
	"hermes/internal/sink"
	"hermes/internal/source"
)

// Orchestrator runs ingestion jobs: it walks symbols through the source's
// chunk stream and writes each chunk to the sink as soon as it arrives, so
// an interrupted sync loses at most the chunk in flight.
type Orchestrator struct {
	source   source.DataSource
	sink     sink.DataSink
	cfg      config.SourceConfig
	progress ProgressTracker
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error

	// now is a test seam for the sync end date.
	now func() time.Time
}

// NewOrchestrator wires a source and sink together. A nil progress tracker
// is replaced with NopTracker.
func NewOrchestrator(src source.DataSource, snk sink.DataSink, cfg config.SourceConfig, progress ProgressTracker, logger *slog.Logger) *Orchestrator {
	if progress == nil {
		progress = NopTracker{}
	}
	return &Orchestrator{
		source:   src,
		sink:     snk,
		cfg:      cfg,
		progress: progress,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// Close releases the source. Safe to call more than once; Sync calls it
// when it finishes.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.closeErr = o.source.Close()
	})
	return o.closeErr
}

// resumeStart picks the fetch start date for a symbol: the date of its last
// stored candle when data exists, otherwise the configured default start.
// Resuming from the last stored day re-fetches that day; the sink dedupes
// the overlap, and a partially ingested final day is completed rather than
// skipped.
func (o *Orchestrator) resumeStart(ctx context.Context, symbol string) (time.Time, error) {
	defaultStart, err := time.Parse("2006-01-02", o.cfg.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad start_date %q: %w", o.cfg.StartDate, err)
	}

	last, ok, err := o.sink.LastTimestamp(ctx, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("resume lookup for %s: %w", symbol, err)
	}
	if !ok {
		return defaultStart, nil
	}

	resume := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	o.logger.Info("resuming from existing data", "symbol", symbol, "start", resume.Format("2006-01-02"))
	return resume, nil
}

// FetchSymbol ingests one symbol up to today. Returns true on success;
// failures are logged and reported through the tracker, never raised, so
// one bad symbol cannot abort a sync.
func (o *Orchestrator) FetchSymbol(ctx context.Context, symbol string, token int64) bool {
	now := o.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	start, err := o.resumeStart(ctx, symbol)
	if err != nil {
		o.logger.Error("fetch failed", "symbol", symbol, "error", err)
		o.progress.CompleteSymbol(symbol, false)
		metricSymbolsCompleted.WithLabelValues("failed").Inc()
		return false
	}
	if !start.Before(end) {
		o.logger.Info("already up to date", "symbol", symbol)
		o.progress.CompleteSymbol(symbol, true)
		metricSymbolsCompleted.WithLabelValues("complete").Inc()
		return true
	}

	o.progress.StartSymbol(symbol, o.source.CalculateChunks(start, end))

	chunksWritten, totalRows := 0, 0
	stream := o.source.FetchChunks(symbol, token, start, end)
	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			o.logger.Error("fetch failed", "symbol", symbol, "error", err)
			o.progress.CompleteSymbol(symbol, false)
			metricSymbolsCompleted.WithLabelValues("failed").Inc()
			return false
		}
		if !ok {
			break
		}
		if len(chunk.Candles) == 0 {
			o.progress.UpdateSymbol(symbol, 1, 0)
			continue
		}

		// Write immediately; the sink handles merge and dedupe.
		if _, err := o.sink.Write(ctx, symbol, chunk.Candles); err != nil {
			o.logger.Error("write failed", "symbol", symbol, "error", err)
			o.progress.CompleteSymbol(symbol, false)
			metricSymbolsCompleted.WithLabelValues("failed").Inc()
			return false
		}
		chunksWritten++
		totalRows += len(chunk.Candles)
		metricChunksFetched.Inc()
		metricRowsWritten.Add(float64(len(chunk.Candles)))
		o.progress.UpdateSymbol(symbol, 1, len(chunk.Candles))
	}

	if chunksWritten == 0 {
		o.logger.Info("no new data", "symbol", symbol)
	} else {
		o.logger.Info("symbol ingested", "symbol", symbol, "chunks", chunksWritten, "rows", totalRows)
	}
	o.progress.CompleteSymbol(symbol, true)
	metricSymbolsCompleted.WithLabelValues("complete").Inc()
	return true
}

// Sync ingests many symbols with bounded concurrency and returns the
// per-symbol outcome. An empty symbols filter means the whole instrument
// universe; limit <= 0 means no cap.
func (o *Orchestrator) Sync(ctx context.Context, symbols []string, limit, concurrency int) (map[string]bool, error) {
	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}

	instruments, err := o.source.Instruments()
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	if len(symbols) > 0 {
		wanted := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			wanted[strings.ToUpper(s)] = true
		}
		filtered := instruments[:0]
		for _, inst := range instruments {
			if wanted[strings.ToUpper(inst.Symbol)] {
				filtered = append(filtered, inst)
			}
		}
		instruments = filtered
	}
	if limit > 0 && len(instruments) > limit {
		instruments = instruments[:limit]
	}
	if len(instruments) == 0 {
		o.logger.Warn("no instruments to process")
		return map[string]bool{}, nil
	}

	o.logger.Info("sync starting", "symbols", len(instruments), "concurrency", concurrency)
	o.progress.Start(len(instruments))

	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]bool, len(instruments))
	)
	for _, inst := range instruments {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(symbol string, token int64) {
			defer wg.Done()
			defer sem.Release(1)
			ok := o.FetchSymbol(ctx, symbol, token)
			mu.Lock()
			results[symbol] = ok
			mu.Unlock()
		}(inst.Symbol, inst.Token)
	}
	wg.Wait()

	if err := o.Close(); err != nil {
		o.logger.Warn("source close failed", "error", err)
	}

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	o.logger.Info("sync complete", "succeeded", succeeded, "total", len(results))
	return results, ctx.Err()
}
