package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"hermes/internal/frame"
	"hermes/internal/sink"
)

// Durable is a cache backed by a Postgres UNLOGGED table, so several API
// processes can share one warm cache without WAL overhead. Payloads are
// the same parquet row encoding the sinks use; only the base OHLCV
// columns plus open interest survive a round trip, which is exactly what
// the data service caches.
type Durable struct {
	db       *sqlx.DB
	maxBytes int64
	ttl      time.Duration
	logger   *slog.Logger

	now func() time.Time
}

const durableSchema = `
CREATE UNLOGGED TABLE IF NOT EXISTS dataframe_cache (
	id               BIGSERIAL PRIMARY KEY,
	cache_key        TEXT NOT NULL UNIQUE,
	symbols          TEXT NOT NULL,
	payload          BYTEA NOT NULL,
	payload_bytes    BIGINT NOT NULL,
	row_count        BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	hit_count        BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dataframe_cache_expires ON dataframe_cache (expires_at);
CREATE INDEX IF NOT EXISTS idx_dataframe_cache_accessed ON dataframe_cache (last_accessed_at);
`

// NewDurable builds a Postgres-backed cache bounded to maxSizeMB with
// per-entry TTL expiry.
func NewDurable(db *sqlx.DB, maxSizeMB int, ttl time.Duration, logger *slog.Logger) *Durable {
	return &Durable{
		db:       db,
		maxBytes: int64(maxSizeMB) << 20,
		ttl:      ttl,
		logger:   logger.With("component", "cache"),
		now:      time.Now,
	}
}

// EnsureSchema creates the cache table when missing.
func (c *Durable) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, durableSchema)
	return err
}

// Get returns the cached frame for key. Expired rows are deleted on
// read; any database failure reads as a miss.
func (c *Durable) Get(ctx context.Context, key string) (*frame.Frame, bool) {
	var row struct {
		ID        int64     `db:"id"`
		Payload   []byte    `db:"payload"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := c.db.GetContext(ctx, &row,
		`SELECT id, payload, expires_at FROM dataframe_cache WHERE cache_key = $1`, key)
	if err != nil {
		return nil, false
	}

	if row.ExpiresAt.Before(c.now()) {
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM dataframe_cache WHERE id = $1`, row.ID); err != nil {
			c.logger.Warn("delete expired cache row failed", "error", err)
		}
		return nil, false
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE dataframe_cache SET last_accessed_at = $1, hit_count = hit_count + 1 WHERE id = $2`,
		c.now(), row.ID); err != nil {
		c.logger.Warn("update cache access failed", "error", err)
	}

	f, err := DecodeFrame(row.Payload)
	if err != nil {
		c.logger.Warn("decode cached frame failed", "error", err)
		return nil, false
	}
	return f, true
}

// Set stores a frame under key, evicting expired and least recently
// accessed rows until the payload fits. Failures are logged and dropped.
func (c *Durable) Set(ctx context.Context, key string, f *frame.Frame) {
	payload, err := EncodeFrame(f)
	if err != nil {
		c.logger.Warn("encode frame for cache failed", "error", err)
		return
	}
	size := int64(len(payload))
	if size > c.maxBytes {
		c.logger.Warn("frame too large to cache",
			"size_bytes", size,
			"max_bytes", c.maxBytes,
		)
		return
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		c.logger.Warn("cache set failed", "error", err)
		return
	}
	defer tx.Rollback()

	now := c.now()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dataframe_cache WHERE cache_key = $1 OR expires_at < $2`, key, now); err != nil {
		c.logger.Warn("cache set failed", "error", err)
		return
	}

	var total int64
	if err := tx.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(payload_bytes), 0) FROM dataframe_cache`); err != nil {
		c.logger.Warn("cache set failed", "error", err)
		return
	}
	for total+size > c.maxBytes {
		var oldest struct {
			ID    int64 `db:"id"`
			Bytes int64 `db:"payload_bytes"`
		}
		err := tx.GetContext(ctx, &oldest,
			`SELECT id, payload_bytes FROM dataframe_cache ORDER BY last_accessed_at ASC LIMIT 1`)
		if err != nil {
			break
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM dataframe_cache WHERE id = $1`, oldest.ID); err != nil {
			c.logger.Warn("cache set failed", "error", err)
			return
		}
		total -= oldest.Bytes
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dataframe_cache
			(cache_key, symbols, payload, payload_bytes, row_count,
			 created_at, last_accessed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)`,
		key, strings.Join(frameSymbols(f), ","), payload, size, f.Len(),
		now, now.Add(c.ttl)); err != nil {
		c.logger.Warn("cache set failed", "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		c.logger.Warn("cache set failed", "error", err)
	}
}

// Clear drops every entry.
func (c *Durable) Clear(ctx context.Context) {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM dataframe_cache`); err != nil {
		c.logger.Warn("cache clear failed", "error", err)
	}
}

// Stats reports occupancy from the table. Hit counters live per row in
// Postgres, so only aggregate hits are reported.
func (c *Durable) Stats() Stats {
	var row struct {
		Entries int64 `db:"entries"`
		Bytes   int64 `db:"bytes"`
		Hits    int64 `db:"hits"`
	}
	err := c.db.Get(&row, `
		SELECT COUNT(*) AS entries,
		       COALESCE(SUM(payload_bytes), 0) AS bytes,
		       COALESCE(SUM(hit_count), 0) AS hits
		FROM dataframe_cache`)
	if err != nil {
		return Stats{MaxMB: float64(c.maxBytes) / (1 << 20)}
	}
	return Stats{
		Entries: int(row.Entries),
		SizeMB:  float64(row.Bytes) / (1 << 20),
		MaxMB:   float64(c.maxBytes) / (1 << 20),
		Hits:    row.Hits,
	}
}

func (c *Durable) Close() error { return c.db.Close() }

// EncodeFrame serializes a frame as parquet rows. Only the base columns,
// the symbol column and open interest are carried; that is the full
// shape of what the data service loads.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	rows := make([]sink.Row, f.Len())
	for i := 0; i < f.Len(); i++ {
		c := f.Candle(i)
		rows[i] = sink.Row{
			Symbol:    f.Symbol(i),
			Timestamp: c.Timestamp.Unix(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			OI:        c.OI,
		}
	}
	return sink.EncodeRows(rows)
}

// DecodeFrame rebuilds a frame from EncodeFrame output.
func DecodeFrame(data []byte) (*frame.Frame, error) {
	rows, err := sink.DecodeRows(data)
	if err != nil {
		return nil, err
	}
	n := len(rows)
	f := &frame.Frame{
		Timestamps: make([]time.Time, n),
		Open:       make([]float64, n),
		High:       make([]float64, n),
		Low:        make([]float64, n),
		Close:      make([]float64, n),
		Volume:     make([]float64, n),
		Symbols:    make([]string, n),
	}
	oi := make([]float64, n)
	for i, r := range rows {
		f.Timestamps[i] = time.Unix(r.Timestamp, 0).UTC()
		f.Open[i] = r.Open
		f.High[i] = r.High
		f.Low[i] = r.Low
		f.Close[i] = r.Close
		f.Volume[i] = r.Volume
		f.Symbols[i] = r.Symbol
		oi[i] = r.OI
	}
	f.SetColumn("oi", frame.NewSeries(oi))
	return f, nil
}

func frameSymbols(f *frame.Frame) []string {
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < f.Len(); i++ {
		s := f.Symbol(i)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
