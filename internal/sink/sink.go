// Package sink persists candle history as one parquet file per symbol.
//
// Three providers share the same write discipline: read whatever exists for
// the symbol, merge the incoming rows in (newer rows win on timestamp
// collision), sort ascending and replace the object in one shot. Re-running
// an ingest over an already-covered range is therefore idempotent.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"hermes/internal/config"
	"hermes/pkg/types"
)

// DataSink stores and retrieves per-symbol candle files.
type DataSink interface {
	// Write merges candles into the symbol's file and returns the total
	// row count after the merge.
	Write(ctx context.Context, symbol string, candles []types.Candle) (int, error)

	// Read returns all stored candles for the symbol in ascending time
	// order, or (nil, nil) when the symbol has no file.
	Read(ctx context.Context, symbol string) ([]types.Candle, error)

	// Exists reports whether the symbol has a stored file.
	Exists(ctx context.Context, symbol string) (bool, error)

	// ListSymbols returns every stored symbol, sorted.
	ListSymbols(ctx context.Context) ([]string, error)

	// LastTimestamp returns the newest stored timestamp for the symbol.
	// ok is false when the symbol has no data.
	LastTimestamp(ctx context.Context, symbol string) (ts time.Time, ok bool, err error)

	Close() error
}

// New builds the sink selected by config.
func New(cfg config.SinkConfig, logger *slog.Logger) (DataSink, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalSink(cfg.Path, logger)
	case "cloudflare_r2":
		return NewR2Sink(cfg, logger)
	case "oracle_object_storage":
		return NewOracleSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown sink provider %q", cfg.Provider)
	}
}

// objectKey is the storage name for a symbol's candle file.
func objectKey(symbol string) string {
	return strings.ToUpper(symbol) + ".parquet"
}

// symbolFromKey inverts objectKey; ok is false for non-candle objects.
func symbolFromKey(key string) (string, bool) {
	name, found := strings.CutSuffix(key, ".parquet")
	if !found || name == "" {
		return "", false
	}
	return name, true
}

// mergeCandles combines stored and incoming rows, deduplicates on timestamp
// with incoming rows winning, and returns the result sorted ascending.
func mergeCandles(existing, incoming []types.Candle) []types.Candle {
	byTime := make(map[int64]types.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byTime[c.Timestamp.Unix()] = c
	}
	for _, c := range incoming {
		byTime[c.Timestamp.Unix()] = c
	}

	merged := make([]types.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
