package api

import (
	"hermes/internal/ingest"
)

// ProgressStream adapts the WebSocket hub to the ingest progress
// contract, so a sync started over the API streams its per-symbol
// progress to connected clients. Pair it with a LogTracker through a
// MultiTracker to keep terminal output.
type ProgressStream struct {
	hub *Hub
}

// NewProgressStream builds a tracker that broadcasts through hub.
func NewProgressStream(hub *Hub) *ProgressStream {
	return &ProgressStream{hub: hub}
}

func (p *ProgressStream) Start(totalSymbols int) {
	p.hub.Broadcast("sync_started", map[string]int{"total_symbols": totalSymbols})
}

func (p *ProgressStream) StartSymbol(symbol string, totalChunks int) {
	p.hub.Broadcast("symbol_started", map[string]any{
		"symbol":       symbol,
		"total_chunks": totalChunks,
	})
}

func (p *ProgressStream) UpdateSymbol(symbol string, chunksDone, rowsWritten int) {
	p.hub.Broadcast("symbol_progress", map[string]any{
		"symbol":       symbol,
		"chunks_done":  chunksDone,
		"rows_written": rowsWritten,
	})
}

func (p *ProgressStream) CompleteSymbol(symbol string, success bool) {
	p.hub.Broadcast("symbol_complete", map[string]any{
		"symbol":  symbol,
		"success": success,
	})
}

func (p *ProgressStream) Stop() map[string]ingest.SymbolProgress {
	p.hub.Broadcast("sync_complete", nil)
	return map[string]ingest.SymbolProgress{}
}
