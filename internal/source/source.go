// Package source implements upstream market data providers.
//
// A DataSource streams historical minute candles in bounded date-range
// chunks, paced by a shared token-bucket rate limiter. The only concrete
// provider is the Zerodha Kite history API; the instrument universe comes
// from a local CSV dump of the exchange instrument file.
package source

import (
	"context"
	"time"

	"hermes/pkg/types"
)

// Chunk is one bounded window of a symbol's candles. Empty Candles with a
// nil error means the broker had no data for the window, which is normal
// for holidays and pre-listing ranges.
type Chunk struct {
	Candles []types.Candle
	From    time.Time
	To      time.Time
}

// ChunkStream is a pull-based sequence of chunks for one symbol. Next
// fetches lazily: the next window is not requested until the caller asks
// for it, so a chunk is always persisted before its successor is fetched.
type ChunkStream interface {
	// Next returns the next chunk. ok is false when the stream is
	// exhausted; a non-nil error ends the stream.
	Next(ctx context.Context) (chunk Chunk, ok bool, err error)
}

// DataSource fetches chunked OHLCV history from a broker.
type DataSource interface {
	// Instruments lists the tradable universe from the instrument file,
	// filtered to equity instruments.
	Instruments() ([]types.Instrument, error)

	// FetchChunks opens a lazy chunk stream over [from, to], one chunk
	// per chunk-days window. Each fetch awaits the rate limiter.
	FetchChunks(symbol string, token int64, from, to time.Time) ChunkStream

	// CalculateChunks returns how many chunks FetchChunks will produce
	// for the range, which drives progress totals.
	CalculateChunks(from, to time.Time) int

	// Close releases the underlying HTTP resources. Idempotent.
	Close() error
}
