// Package ingest coordinates chunked history downloads from a data source
// into a sink: smart resume from the last stored timestamp, bounded
// concurrency across symbols and incremental per-chunk writes.
package ingest

import (
	"log/slog"
	"sync"
	"time"
)

// SymbolStatus is the lifecycle of one symbol within a sync.
type SymbolStatus string

const (
	StatusPending  SymbolStatus = "pending"
	StatusFetching SymbolStatus = "fetching"
	StatusComplete SymbolStatus = "complete"
	StatusFailed   SymbolStatus = "failed"
)

// SymbolProgress is the per-symbol tally a tracker accumulates.
type SymbolProgress struct {
	Symbol          string       `json:"symbol"`
	TotalChunks     int          `json:"total_chunks"`
	CompletedChunks int          `json:"completed_chunks"`
	RowsWritten     int          `json:"rows_written"`
	StartedAt       time.Time    `json:"started_at"`
	Status          SymbolStatus `json:"status"`
}

// ProgressTracker receives ingestion progress callbacks. Implementations
// must be safe for concurrent use; the orchestrator calls them from every
// worker goroutine.
type ProgressTracker interface {
	// Start begins a sync over the given number of symbols.
	Start(totalSymbols int)

	// StartSymbol registers a symbol and its expected chunk count.
	StartSymbol(symbol string, totalChunks int)

	// UpdateSymbol records completed chunks and rows for a symbol.
	UpdateSymbol(symbol string, chunksDone, rowsWritten int)

	// CompleteSymbol marks a symbol finished.
	CompleteSymbol(symbol string, success bool)

	// Stop ends the sync and returns the per-symbol summary.
	Stop() map[string]SymbolProgress
}

// LogTracker reports progress through slog. With Quiet set it stays silent
// until the final per-symbol summaries.
type LogTracker struct {
	logger *slog.Logger
	quiet  bool

	mu      sync.Mutex
	symbols map[string]*SymbolProgress
	total   int
}

// NewLogTracker builds a tracker logging to the given logger.
func NewLogTracker(logger *slog.Logger, quiet bool) *LogTracker {
	return &LogTracker{
		logger:  logger.With("component", "progress"),
		quiet:   quiet,
		symbols: make(map[string]*SymbolProgress),
	}
}

func (t *LogTracker) Start(totalSymbols int) {
	t.mu.Lock()
	t.total = totalSymbols
	t.mu.Unlock()
	if !t.quiet {
		t.logger.Info("sync started", "symbols", totalSymbols)
	}
}

func (t *LogTracker) StartSymbol(symbol string, totalChunks int) {
	t.mu.Lock()
	t.symbols[symbol] = &SymbolProgress{
		Symbol:      symbol,
		TotalChunks: totalChunks,
		StartedAt:   time.Now(),
		Status:      StatusFetching,
	}
	t.mu.Unlock()
}

func (t *LogTracker) UpdateSymbol(symbol string, chunksDone, rowsWritten int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.symbols[symbol]
	if !ok {
		return
	}
	p.CompletedChunks += chunksDone
	p.RowsWritten += rowsWritten
}

func (t *LogTracker) CompleteSymbol(symbol string, success bool) {
	t.mu.Lock()
	p, ok := t.symbols[symbol]
	if ok {
		if success {
			p.Status = StatusComplete
		} else {
			p.Status = StatusFailed
		}
	}
	t.mu.Unlock()

	if ok && !t.quiet {
		t.logger.Info("symbol finished",
			"symbol", symbol,
			"status", p.Status,
			"chunks", p.CompletedChunks,
			"rows", p.RowsWritten)
	}
}

func (t *LogTracker) Stop() map[string]SymbolProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]SymbolProgress, len(t.symbols))
	for sym, p := range t.symbols {
		out[sym] = *p
	}
	return out
}

// MultiTracker fans every callback out to several trackers; Stop returns
// the first tracker's summary.
type MultiTracker struct {
	trackers []ProgressTracker
}

func NewMultiTracker(trackers ...ProgressTracker) *MultiTracker {
	return &MultiTracker{trackers: trackers}
}

func (m *MultiTracker) Start(totalSymbols int) {
	for _, t := range m.trackers {
		t.Start(totalSymbols)
	}
}

func (m *MultiTracker) StartSymbol(symbol string, totalChunks int) {
	for _, t := range m.trackers {
		t.StartSymbol(symbol, totalChunks)
	}
}

func (m *MultiTracker) UpdateSymbol(symbol string, chunksDone, rowsWritten int) {
	for _, t := range m.trackers {
		t.UpdateSymbol(symbol, chunksDone, rowsWritten)
	}
}

func (m *MultiTracker) CompleteSymbol(symbol string, success bool) {
	for _, t := range m.trackers {
		t.CompleteSymbol(symbol, success)
	}
}

func (m *MultiTracker) Stop() map[string]SymbolProgress {
	var first map[string]SymbolProgress
	for i, t := range m.trackers {
		summary := t.Stop()
		if i == 0 {
			first = summary
		}
	}
	return first
}

// NopTracker discards all progress.
type NopTracker struct{}

func (NopTracker) Start(int)                   {}
func (NopTracker) StartSymbol(string, int)     {}
func (NopTracker) UpdateSymbol(string, int, int) {}
func (NopTracker) CompleteSymbol(string, bool) {}
func (NopTracker) Stop() map[string]SymbolProgress {
	return map[string]SymbolProgress{}
}
