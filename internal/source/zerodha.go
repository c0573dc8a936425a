// zerodha.go implements the Zerodha Kite historical data source.
//
// Kite's history endpoint is an unofficial browser API: it authenticates
// with the enctoken cookie value from a logged-in web session and expects a
// browser-like User-Agent. History must be requested in bounded date
// windows; large spans are rejected, so the source walks the range in
// chunk-days steps. Retry taxonomy per chunk:
//
//   - 400: no data for the window; yield an empty chunk and advance.
//   - 429: rate limited; back off 2*(attempt+1) seconds, up to 3 attempts.
//   - transport error: back off 1*(attempt+1) seconds, up to 3 attempts.
//   - any other non-success body: the stream fails.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"hermes/internal/config"
	"hermes/pkg/types"
)

const (
	zerodhaBaseURL = "https://kite.zerodha.com/oms"

	// Kite rejects non-browser user agents.
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"

	fetchAttempts = 3
)

// Zerodha fetches minute OHLCV history from the Kite web API.
type Zerodha struct {
	http      *resty.Client
	limiter   *TokenBucket
	userID    string
	chunkDays int
	instFile  string
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewZerodha creates the source from config. The enctoken credential is
// required; everything else has defaults.
func NewZerodha(cfg config.SourceConfig, logger *slog.Logger) (*Zerodha, error) {
	if cfg.Enctoken == "" {
		return nil, fmt.Errorf("zerodha enctoken required (set HERMES_ZERODHA_ENCTOKEN)")
	}

	httpClient := resty.New().
		SetBaseURL(zerodhaBaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Authorization", "enctoken "+cfg.Enctoken).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", browserUserAgent)

	return &Zerodha{
		http:      httpClient,
		limiter:   NewTokenBucket(cfg.RatePerSec, cfg.RatePerSec),
		userID:    cfg.UserID,
		chunkDays: cfg.ChunkDays,
		instFile:  cfg.InstrumentFile,
		logger:    logger.With("component", "zerodha"),
	}, nil
}

// Instruments reads the local instrument CSV, keeping equity rows only.
func (z *Zerodha) Instruments() ([]types.Instrument, error) {
	return LoadInstruments(z.instFile)
}

// CalculateChunks counts the windows FetchChunks will walk for the range.
func (z *Zerodha) CalculateChunks(from, to time.Time) int {
	n := 0
	for cur := from; !cur.After(to); {
		next := cur.AddDate(0, 0, z.chunkDays)
		if next.After(to) {
			next = to
		}
		n++
		cur = next.AddDate(0, 0, 1)
	}
	return n
}

// FetchChunks opens a lazy stream over [from, to]. Windows are inclusive on
// both ends upstream; consecutive windows step by one day past the previous
// end so no day is requested twice.
func (z *Zerodha) FetchChunks(symbol string, token int64, from, to time.Time) ChunkStream {
	return &zerodhaStream{src: z, symbol: symbol, token: token, cur: from, end: to}
}

// Close releases idle HTTP connections. Safe to call more than once.
func (z *Zerodha) Close() error {
	z.closeOnce.Do(func() {
		z.http.GetClient().CloseIdleConnections()
	})
	return nil
}

type zerodhaStream struct {
	src    *Zerodha
	symbol string
	token  int64
	cur    time.Time
	end    time.Time
}

func (s *zerodhaStream) Next(ctx context.Context) (Chunk, bool, error) {
	if s.cur.After(s.end) {
		return Chunk{}, false, nil
	}

	next := s.cur.AddDate(0, 0, s.src.chunkDays)
	if next.After(s.end) {
		next = s.end
	}

	candles, err := s.src.fetchChunk(ctx, s.symbol, s.token, s.cur, next)
	if err != nil {
		return Chunk{}, false, err
	}

	chunk := Chunk{Candles: candles, From: s.cur, To: next}
	s.cur = next.AddDate(0, 0, 1)
	return chunk, true, nil
}

// historicalResponse is the Kite history endpoint body. Candle rows are
// positional arrays: [timestamp, open, high, low, close, volume, oi].
type historicalResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

func (z *Zerodha) fetchChunk(ctx context.Context, symbol string, token int64, from, to time.Time) ([]types.Candle, error) {
	path := fmt.Sprintf("/instruments/historical/%d/minute", token)
	fromDate, toDate := from.Format("2006-01-02"), to.Format("2006-01-02")

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if err := z.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		req := z.http.R().
			SetContext(ctx).
			SetQueryParam("from", fromDate).
			SetQueryParam("to", toDate).
			SetQueryParam("oi", "1")
		if z.userID != "" {
			req.SetQueryParam("user_id", z.userID)
		}

		resp, err := req.Get(path)
		if err != nil {
			z.logger.Warn("chunk request failed",
				"symbol", symbol, "attempt", attempt+1, "error", err)
			if err := sleepCtx(ctx, time.Duration(attempt+1)*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		switch resp.StatusCode() {
		case http.StatusTooManyRequests:
			z.logger.Warn("rate limit hit, backing off",
				"symbol", symbol, "attempt", attempt+1)
			if err := sleepCtx(ctx, 2*time.Duration(attempt+1)*time.Second); err != nil {
				return nil, err
			}
			continue
		case http.StatusBadRequest:
			// No data for this window.
			return nil, nil
		}

		var body historicalResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("decode history response: %w", err)
		}
		if body.Status != "success" {
			return nil, fmt.Errorf("history API error for %s: status %d: %s",
				symbol, resp.StatusCode(), body.Message)
		}

		candles, err := parseCandles(body.Data.Candles)
		if err != nil {
			return nil, fmt.Errorf("parse candles for %s: %w", symbol, err)
		}
		z.logger.Debug("chunk fetched",
			"symbol", symbol, "from", fromDate, "to", toDate, "rows", len(candles))
		return candles, nil
	}

	return nil, fmt.Errorf("chunk %s [%s, %s]: retries exhausted", symbol, fromDate, toDate)
}

// Timestamp layouts seen from the Kite API: numeric offset with and
// without a colon.
var candleTimeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05-07:00",
}

func parseCandles(rows [][]any) ([]types.Candle, error) {
	candles := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: want >= 6 fields, got %d", i, len(row))
		}
		ts, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("row %d: timestamp is %T, want string", i, row[0])
		}
		t, err := parseCandleTime(ts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		vals := make([]float64, 0, 6)
		for j := 1; j < len(row) && j < 7; j++ {
			f, ok := row[j].(float64)
			if !ok {
				return nil, fmt.Errorf("row %d field %d: %T, want number", i, j, row[j])
			}
			vals = append(vals, f)
		}

		c := types.Candle{
			Timestamp: naiveWallClock(t),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		}
		if len(vals) > 5 {
			c.OI = vals[5]
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandleTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range candleTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

// naiveWallClock strips the timezone, keeping the exchange-local wall-clock
// reading. All stored timestamps are naive.
func naiveWallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
