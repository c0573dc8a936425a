// Package market loads stored candle history into analysis frames.
//
// Service sits between the sinks and everything that consumes frames: the
// backtest engines, the scanner and the data API. Loads are cached by a
// fingerprint of the request, guarded against malformed rows, and logged
// to the registry when one is attached. Cache and registry failures never
// fail a load.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hermes/internal/cache"
	"hermes/internal/frame"
	"hermes/internal/sink"
	"hermes/pkg/types"
)

// ErrNoData means none of the requested symbols had usable rows in the
// requested window.
var ErrNoData = errors.New("no data loaded for any of the provided symbols")

// LoadRecord describes one completed symbol load for the registry audit
// trail.
type LoadRecord struct {
	Symbol     string
	Start      string
	End        string
	Rows       int
	LoadTimeMs int64
	CacheHit   bool
	Status     string // "success" or "error"
	Error      string
}

// LoadLogger receives load records. Implemented by the registry; a nil
// logger disables the audit trail.
type LoadLogger interface {
	LogDataLoad(ctx context.Context, rec LoadRecord)
}

// Service loads candle frames from a sink through a cache.
type Service struct {
	sink    sink.DataSink
	cache   cache.Cache
	loadLog LoadLogger
	logger  *slog.Logger
}

// NewService wires a data service. cache and loadLog may be nil.
func NewService(s sink.DataSink, c cache.Cache, loadLog LoadLogger, logger *slog.Logger) *Service {
	return &Service{
		sink:    s,
		cache:   c,
		loadLog: loadLog,
		logger:  logger.With("component", "market"),
	}
}

// GetMarketData loads the requested symbols into one frame sorted by
// (timestamp, symbol). start and end are "YYYY-MM-DD" date bounds; empty
// means unbounded on that side. Symbols with no stored file are skipped
// with a warning; an error is returned only when nothing loads at all.
func (s *Service) GetMarketData(ctx context.Context, symbols []string, start, end string) (*frame.Frame, error) {
	began := time.Now()

	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	key := cache.Fingerprint(upper, start, end)
	if s.cache != nil {
		if f, ok := s.cache.Get(ctx, key); ok {
			s.logger.Info("market data cache hit",
				"symbols", len(upper), "rows", f.Len())
			s.logLoads(ctx, upper, start, end, f, time.Since(began), true, nil)
			return f.Clone(), nil
		}
	}

	startTS, endTS, err := parseDateBounds(start, end)
	if err != nil {
		return nil, err
	}

	var frames []*frame.Frame
	loadErrs := make(map[string]error)
	for _, sym := range upper {
		candles, err := s.sink.Read(ctx, sym)
		if err != nil {
			s.logger.Error("read symbol failed", "symbol", sym, "error", err)
			loadErrs[sym] = err
			continue
		}
		if candles == nil {
			s.logger.Warn("no stored data for symbol", "symbol", sym)
			continue
		}
		f := frame.FromCandles(sym, candles)
		frames = append(frames, f.FilterRange(startTS, endTS))
	}

	if len(frames) == 0 {
		s.logLoads(ctx, upper, start, end, nil, time.Since(began), false, loadErrs)
		return nil, ErrNoData
	}

	combined, err := frame.Concat(frames)
	if err != nil {
		return nil, fmt.Errorf("combine symbol frames: %w", err)
	}
	combined.SortByTime()

	guarded, dropped := combined.Guard()
	if dropped > 0 {
		s.logger.Warn("dropped malformed rows", "dropped", dropped)
	}
	if guarded.Len() == 0 {
		return nil, ErrNoData
	}

	// Cache a private copy; callers are free to mutate what they get back.
	if s.cache != nil {
		s.cache.Set(ctx, key, guarded.Clone())
	}

	elapsed := time.Since(began)
	s.logger.Info("market data loaded",
		"symbols", len(frames),
		"rows", guarded.Len(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	s.logLoads(ctx, upper, start, end, guarded, elapsed, false, loadErrs)
	return guarded, nil
}

// Load implements the loader contract the backtest service consumes.
func (s *Service) Load(ctx context.Context, symbols []string, startDate, endDate string) (*frame.Frame, error) {
	return s.GetMarketData(ctx, symbols, startDate, endDate)
}

// Resample aggregates a minute frame up to the given timeframe. The
// minute timeframe returns the frame unchanged.
func (s *Service) Resample(f *frame.Frame, tf types.Timeframe) (*frame.Frame, error) {
	width := tf.Duration()
	if width == 0 {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	if tf == types.TF1m {
		return f, nil
	}
	return f.ResampleOHLCV(width), nil
}

// LoadAndResample loads one symbol and aggregates it to the timeframe.
// Serves the candle data API.
func (s *Service) LoadAndResample(ctx context.Context, symbol, timeframe, start, end string) (*frame.Frame, error) {
	tf, _, err := types.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	f, err := s.GetMarketData(ctx, []string{symbol}, start, end)
	if err != nil {
		return nil, err
	}
	return s.Resample(f, tf)
}

// ListInstruments returns every symbol with stored data, sorted.
func (s *Service) ListInstruments(ctx context.Context) ([]string, error) {
	return s.sink.ListSymbols(ctx)
}

// CacheStats reports the frame cache counters, zero stats without a cache.
func (s *Service) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// logLoads writes one registry record per requested symbol. rows come
// from the loaded frame's symbol counts; symbols that failed carry their
// error.
func (s *Service) logLoads(ctx context.Context, symbols []string, start, end string, f *frame.Frame, elapsed time.Duration, cacheHit bool, loadErrs map[string]error) {
	if s.loadLog == nil {
		return
	}

	rowsBySymbol := make(map[string]int)
	if f != nil {
		for i := 0; i < f.Len(); i++ {
			rowsBySymbol[f.Symbol(i)]++
		}
	}

	for _, sym := range symbols {
		rec := LoadRecord{
			Symbol:     sym,
			Start:      start,
			End:        end,
			Rows:       rowsBySymbol[sym],
			LoadTimeMs: elapsed.Milliseconds(),
			CacheHit:   cacheHit,
			Status:     "success",
		}
		if err, failed := loadErrs[sym]; failed {
			rec.Status = "error"
			rec.Error = err.Error()
		}
		s.loadLog.LogDataLoad(ctx, rec)
	}
}

// parseDateBounds converts "YYYY-MM-DD" request bounds into timestamps.
// The end bound is the midnight instant of the end date; a zero time
// leaves that side open.
func parseDateBounds(start, end string) (time.Time, time.Time, error) {
	var startTS, endTS time.Time
	var err error
	if start != "" {
		startTS, err = time.Parse("2006-01-02", start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse start date: %w", err)
		}
	}
	if end != "" {
		endTS, err = time.Parse("2006-01-02", end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse end date: %w", err)
		}
	}
	return startTS, endTS, nil
}
