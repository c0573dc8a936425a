package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hermes/pkg/types"
)

// LocalSink stores candle files under a directory on the local filesystem.
// Writes use atomic file replacement (write to .tmp, then rename) so a
// crash mid-write never leaves a truncated parquet file behind. All
// operations are mutex-protected to prevent concurrent file corruption.
type LocalSink struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewLocalSink creates the directory if needed and returns the sink.
func NewLocalSink(dir string, logger *slog.Logger) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &LocalSink{dir: dir, logger: logger.With("component", "local_sink")}, nil
}

func (s *LocalSink) path(symbol string) string {
	return filepath.Join(s.dir, objectKey(symbol))
}

// Write merges candles into the symbol's file and atomically replaces it.
func (s *LocalSink) Write(ctx context.Context, symbol string, candles []types.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked(symbol)
	if err != nil {
		return 0, err
	}
	merged := mergeCandles(existing, candles)

	data, err := EncodeRows(RowsFromCandles(strings.ToUpper(symbol), merged))
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", symbol, err)
	}

	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", symbol, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("replace %s: %w", symbol, err)
	}
	return len(merged), nil
}

// Read returns all stored candles for the symbol, or (nil, nil) when the
// symbol has no file.
func (s *LocalSink) Read(ctx context.Context, symbol string) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(symbol)
}

func (s *LocalSink) readLocked(symbol string) ([]types.Candle, error) {
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", symbol, err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", symbol, err)
	}
	return CandlesFromRows(rows), nil
}

// Exists reports whether the symbol has a stored file.
func (s *LocalSink) Exists(ctx context.Context, symbol string) (bool, error) {
	if _, err := os.Stat(s.path(symbol)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSymbols returns the symbols with stored files, sorted.
func (s *LocalSink) ListSymbols(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sink dir: %w", err)
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sym, ok := symbolFromKey(e.Name()); ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LastTimestamp returns the newest stored timestamp for the symbol.
func (s *LocalSink) LastTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	candles, err := s.Read(ctx, symbol)
	if err != nil || len(candles) == 0 {
		return time.Time{}, false, err
	}
	return candles[len(candles)-1].Timestamp, true, nil
}

// Close is a no-op for file-based storage.
func (s *LocalSink) Close() error {
	return nil
}
