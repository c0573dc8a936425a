// Package scanner runs one strategy across many symbols and ranks the
// results. Each symbol is a full backtest; finished results are cached in
// the registry under a hash of the scan parameters so repeat scans are
// nearly free until the cache entry expires.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"hermes/pkg/types"
)

// Runner executes one backtest. Implemented by the backtest service.
type Runner interface {
	Run(ctx context.Context, req types.BacktestRequest) (*types.BacktestResponse, error)
}

// SymbolLister supplies the scan universe when a request names no
// symbols. Implemented by the market data service.
type SymbolLister interface {
	ListInstruments(ctx context.Context) ([]string, error)
}

// ResultCache stores finished scan results keyed by (symbol, strategy,
// params hash). Implemented by the registry; nil disables caching.
// Implementations own TTL expiry and must swallow their own failures.
type ResultCache interface {
	// Cached returns the fresh, successful results available for the
	// given symbols.
	Cached(ctx context.Context, strategy, paramsHash string, symbols []string) map[string]types.ScanResult

	// Save upserts freshly computed results. scanTimes carries the
	// per-symbol elapsed milliseconds.
	Save(ctx context.Context, strategy, paramsHash string, mode types.BacktestMode, results []types.ScanResult, scanTimes map[string]int64)
}

// Scanner fans a strategy out over symbols with bounded concurrency.
type Scanner struct {
	runner         Runner
	lister         SymbolLister
	cache          ResultCache
	maxConcurrency int
	logger         *slog.Logger
}

// New builds a scanner. maxConcurrency bounds workers when the request
// does not set its own limit.
func New(runner Runner, lister SymbolLister, cache ResultCache, maxConcurrency int, logger *slog.Logger) *Scanner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scanner{
		runner:         runner,
		lister:         lister,
		cache:          cache,
		maxConcurrency: maxConcurrency,
		logger:         logger.With("component", "scanner"),
	}
}

// ParamsHash fingerprints everything that changes a scan's outcome:
// strategy parameters, mode, date bounds and timeframe. JSON map keys
// marshal sorted, so the hash is order-independent.
func ParamsHash(params map[string]float64, mode types.BacktestMode, start, end, timeframe string) string {
	if params == nil {
		params = map[string]float64{}
	}
	payload, _ := json.Marshal(struct {
		Params    map[string]float64 `json:"params"`
		Mode      types.BacktestMode `json:"mode"`
		Start     string             `json:"start"`
		End       string             `json:"end"`
		Timeframe string             `json:"timeframe"`
	}{params, mode, start, end, timeframe})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Run executes one scan request and returns ranked per-symbol results.
func (s *Scanner) Run(ctx context.Context, req types.ScanRequest) (*types.ScanResponse, error) {
	began := time.Now()
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbols, err := s.resolveSymbols(ctx, req.Symbols)
	if err != nil {
		return nil, err
	}

	hash := ParamsHash(req.Params, req.Mode, req.StartDate, req.EndDate, req.Timeframe)

	cached := map[string]types.ScanResult{}
	if s.cache != nil {
		cached = s.cache.Cached(ctx, req.Strategy, hash, symbols)
	}

	var pending []string
	results := make([]types.ScanResult, 0, len(symbols))
	for _, sym := range symbols {
		if hit, ok := cached[sym]; ok {
			hit.Symbol = sym
			hit.Status = "cached"
			hit.Cached = true
			results = append(results, hit)
			continue
		}
		pending = append(pending, sym)
	}

	concurrency := req.MaxConcurrency
	if concurrency <= 0 || concurrency > s.maxConcurrency {
		concurrency = s.maxConcurrency
	}
	s.logger.Info("scan starting",
		"strategy", req.Strategy,
		"symbols", len(symbols),
		"cached", len(results),
		"concurrency", concurrency,
	)

	fresh, scanTimes := s.runPending(ctx, req, pending, concurrency)
	results = append(results, fresh...)

	if s.cache != nil {
		var successes []types.ScanResult
		for _, r := range fresh {
			if r.Status == "success" {
				successes = append(successes, r)
			}
		}
		if len(successes) > 0 {
			s.cache.Save(ctx, req.Strategy, hash, req.Mode, successes, scanTimes)
		}
	}

	sortByReturn(results)

	resp := &types.ScanResponse{
		Strategy:     req.Strategy,
		TotalSymbols: len(symbols),
		Results:      results,
		ElapsedMs:    time.Since(began).Milliseconds(),
	}
	for _, r := range results {
		switch {
		case r.Cached:
			resp.CachedCount++
			resp.Completed++
		case r.Status == "success":
			resp.FreshCount++
			resp.Completed++
		default:
			resp.Failed++
		}
	}

	s.logger.Info("scan complete",
		"strategy", req.Strategy,
		"completed", resp.Completed,
		"failed", resp.Failed,
		"cached", resp.CachedCount,
		"elapsed_ms", resp.ElapsedMs,
	)
	return resp, nil
}

// resolveSymbols uppercases and dedupes the requested symbols, falling
// back to the full stored universe when none are named.
func (s *Scanner) resolveSymbols(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return s.lister.ListInstruments(ctx)
	}
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, sym := range requested {
		u := strings.ToUpper(strings.TrimSpace(sym))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}

// runPending backtests the uncached symbols under a worker bound.
func (s *Scanner) runPending(ctx context.Context, req types.ScanRequest, symbols []string, concurrency int) ([]types.ScanResult, map[string]int64) {
	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   []types.ScanResult
		scanTimes = make(map[string]int64, len(symbols))
	)
	for _, sym := range symbols {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			result := s.scanSymbol(ctx, req, symbol)
			elapsed := time.Since(start).Milliseconds()

			mu.Lock()
			results = append(results, result)
			scanTimes[symbol] = elapsed
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return results, scanTimes
}

// scanSymbol runs one symbol and condenses the backtest into a scan row.
func (s *Scanner) scanSymbol(ctx context.Context, req types.ScanRequest, symbol string) types.ScanResult {
	resp, err := s.runner.Run(ctx, types.BacktestRequest{
		Symbol:      symbol,
		Strategy:    req.Strategy,
		Params:      req.Params,
		InitialCash: req.InitialCash,
		Mode:        req.Mode,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Timeframe:   req.Timeframe,
	})
	if err != nil {
		s.logger.Warn("symbol scan failed", "symbol", symbol, "error", err)
		return types.ScanResult{Symbol: symbol, Status: "error", Error: err.Error()}
	}

	result := types.ScanResult{
		Symbol:      symbol,
		Metrics:     resp.Metrics,
		SignalCount: len(resp.Signals),
		Status:      "success",
	}
	if n := len(resp.Signals); n > 0 {
		last := resp.Signals[n-1]
		result.LastSignal = last.Type
		result.LastSignalTime = last.Time
	}
	return result
}

// sortByReturn orders results by total return descending. Rows without a
// parseable return, error rows included, sink to the bottom.
func sortByReturn(results []types.ScanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		ri, iok := totalReturn(results[i])
		rj, jok := totalReturn(results[j])
		if iok != jok {
			return iok
		}
		if !iok {
			return false
		}
		return ri.GreaterThan(rj)
	})
}

func totalReturn(r types.ScanResult) (decimal.Decimal, bool) {
	raw, ok := r.Metrics["Total Return"]
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(raw, "%"))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
