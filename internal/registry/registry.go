// Package registry persists catalog metadata in Postgres: the instrument
// universe, per-symbol data availability, a load audit trail and the scan
// result cache.
//
// The registry is never on the hot path's critical chain. Writes triggered
// by loads and scans are best-effort: failures are logged and swallowed so
// a down database degrades the service to uncached and unaudited, not
// broken. Only the explicit admin operations (schema setup, instrument
// sync) surface errors.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hermes/internal/market"
	"hermes/pkg/types"
)

// Connect opens and pings a Postgres connection pool.
func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Registry is the Postgres-backed catalog.
type Registry struct {
	db      *sqlx.DB
	scanTTL time.Duration
	logger  *slog.Logger

	now func() time.Time
}

// New wraps an open connection pool. scanTTL bounds how long cached scan
// results stay servable.
func New(db *sqlx.DB, scanTTL time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		db:      db,
		scanTTL: scanTTL,
		logger:  logger.With("component", "registry"),
		now:     time.Now,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	id              BIGSERIAL PRIMARY KEY,
	symbol          TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	exchange        TEXT NOT NULL DEFAULT '',
	instrument_type TEXT NOT NULL DEFAULT '',
	sector          TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS data_availability (
	id                 BIGSERIAL PRIMARY KEY,
	instrument_id      BIGINT NOT NULL REFERENCES instruments (id),
	timeframe          TEXT NOT NULL,
	start_date         DATE,
	end_date           DATE,
	row_count          BIGINT NOT NULL DEFAULT 0,
	missing_days       INT NOT NULL DEFAULT 0,
	data_quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	file_path          TEXT NOT NULL DEFAULT '',
	file_size_mb       DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_updated       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_verified      TIMESTAMPTZ,
	UNIQUE (instrument_id, timeframe)
);

CREATE TABLE IF NOT EXISTS data_load_logs (
	id            BIGSERIAL PRIMARY KEY,
	instrument_id BIGINT REFERENCES instruments (id),
	symbol        TEXT NOT NULL,
	timeframe     TEXT NOT NULL DEFAULT '1m',
	start_date    TEXT NOT NULL DEFAULT '',
	end_date      TEXT NOT NULL DEFAULT '',
	rows_loaded   BIGINT NOT NULL DEFAULT 0,
	load_time_ms  BIGINT NOT NULL DEFAULT 0,
	cache_hit     BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_data_load_logs_symbol ON data_load_logs (symbol, created_at);

CREATE TABLE IF NOT EXISTS scan_results (
	id               BIGSERIAL PRIMARY KEY,
	symbol           TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	params_hash      TEXT NOT NULL,
	mode             TEXT NOT NULL,
	metrics          JSONB NOT NULL DEFAULT '{}'::jsonb,
	signal_count     INT NOT NULL DEFAULT 0,
	last_signal      TEXT NOT NULL DEFAULT '',
	last_signal_time BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at       TIMESTAMPTZ NOT NULL,
	scan_time_ms     BIGINT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	UNIQUE (symbol, strategy, params_hash)
);
CREATE INDEX IF NOT EXISTS idx_scan_results_expires ON scan_results (expires_at);
`

// EnsureSchema creates all registry tables when missing. Idempotent.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

// SyncInstruments upserts the instrument universe, typically parsed from
// the exchange CSV dump. Returns how many rows were written.
func (r *Registry) SyncInstruments(ctx context.Context, instruments []types.Instrument) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sync instruments: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, inst := range instruments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO instruments (symbol, name, exchange, instrument_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (symbol) DO UPDATE SET
				name            = EXCLUDED.name,
				exchange        = EXCLUDED.exchange,
				instrument_type = EXCLUDED.instrument_type,
				updated_at      = now()`,
			inst.Symbol, inst.Name, inst.Exchange, inst.Type); err != nil {
			return 0, fmt.Errorf("upsert instrument %s: %w", inst.Symbol, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sync instruments: %w", err)
	}
	return count, nil
}

// Availability describes the stored coverage of one symbol's file.
type Availability struct {
	Symbol     string
	Timeframe  string
	StartDate  time.Time
	EndDate    time.Time
	RowCount   int64
	FilePath   string
	FileSizeMB float64
}

// UpsertAvailability records coverage after an ingest. The instrument row
// is created when the symbol is not yet cataloged.
func (r *Registry) UpsertAvailability(ctx context.Context, a Availability) error {
	var instrumentID int64
	err := r.db.GetContext(ctx, &instrumentID, `
		INSERT INTO instruments (symbol)
		VALUES ($1)
		ON CONFLICT (symbol) DO UPDATE SET updated_at = now()
		RETURNING id`, a.Symbol)
	if err != nil {
		return fmt.Errorf("resolve instrument %s: %w", a.Symbol, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO data_availability
			(instrument_id, timeframe, start_date, end_date, row_count,
			 file_path, file_size_mb, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (instrument_id, timeframe) DO UPDATE SET
			start_date   = EXCLUDED.start_date,
			end_date     = EXCLUDED.end_date,
			row_count    = EXCLUDED.row_count,
			file_path    = EXCLUDED.file_path,
			file_size_mb = EXCLUDED.file_size_mb,
			last_updated = now()`,
		instrumentID, a.Timeframe, a.StartDate, a.EndDate, a.RowCount,
		a.FilePath, a.FileSizeMB)
	if err != nil {
		return fmt.Errorf("upsert availability %s/%s: %w", a.Symbol, a.Timeframe, err)
	}
	return nil
}

// LogDataLoad appends one row to the load audit trail. Best-effort; the
// data service treats the registry as optional.
func (r *Registry) LogDataLoad(ctx context.Context, rec market.LoadRecord) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_load_logs
			(instrument_id, symbol, start_date, end_date, rows_loaded,
			 load_time_ms, cache_hit, status, error_message)
		VALUES ((SELECT id FROM instruments WHERE symbol = $1),
			$1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Symbol, rec.Start, rec.End, rec.Rows,
		rec.LoadTimeMs, rec.CacheHit, rec.Status, rec.Error)
	if err != nil {
		r.logger.Warn("load log write failed", "symbol", rec.Symbol, "error", err)
	}
}

type scanRow struct {
	Symbol         string `db:"symbol"`
	Metrics        []byte `db:"metrics"`
	SignalCount    int    `db:"signal_count"`
	LastSignal     string `db:"last_signal"`
	LastSignalTime int64  `db:"last_signal_time"`
}

// Cached returns the fresh successful scan results for the given symbols.
// Failures read as an empty cache.
func (r *Registry) Cached(ctx context.Context, strategy, paramsHash string, symbols []string) map[string]types.ScanResult {
	out := make(map[string]types.ScanResult)
	if len(symbols) == 0 {
		return out
	}

	var rows []scanRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, metrics, signal_count, last_signal, last_signal_time
		FROM scan_results
		WHERE strategy = $1 AND params_hash = $2 AND status = 'success'
		  AND expires_at > $3 AND symbol = ANY($4)`,
		strategy, paramsHash, r.now(), pq.Array(symbols))
	if err != nil {
		r.logger.Warn("scan cache lookup failed", "strategy", strategy, "error", err)
		return out
	}

	for _, row := range rows {
		metrics := map[string]string{}
		if err := json.Unmarshal(row.Metrics, &metrics); err != nil {
			r.logger.Warn("bad cached metrics", "symbol", row.Symbol, "error", err)
			continue
		}
		out[row.Symbol] = types.ScanResult{
			Symbol:         row.Symbol,
			Metrics:        metrics,
			SignalCount:    row.SignalCount,
			LastSignal:     row.LastSignal,
			LastSignalTime: row.LastSignalTime,
			Status:         "success",
		}
	}
	return out
}

// Save upserts freshly computed scan results with a new expiry. Failures
// are logged and swallowed.
func (r *Registry) Save(ctx context.Context, strategy, paramsHash string, mode types.BacktestMode, results []types.ScanResult, scanTimes map[string]int64) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Warn("scan cache save failed", "error", err)
		return
	}
	defer tx.Rollback()

	now := r.now()
	for _, res := range results {
		metrics, err := json.Marshal(res.Metrics)
		if err != nil {
			r.logger.Warn("scan cache save failed", "symbol", res.Symbol, "error", err)
			return
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scan_results
				(symbol, strategy, params_hash, mode, metrics, signal_count,
				 last_signal, last_signal_time, created_at, expires_at,
				 scan_time_ms, status, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (symbol, strategy, params_hash) DO UPDATE SET
				mode             = EXCLUDED.mode,
				metrics          = EXCLUDED.metrics,
				signal_count     = EXCLUDED.signal_count,
				last_signal      = EXCLUDED.last_signal,
				last_signal_time = EXCLUDED.last_signal_time,
				created_at       = EXCLUDED.created_at,
				expires_at       = EXCLUDED.expires_at,
				scan_time_ms     = EXCLUDED.scan_time_ms,
				status           = EXCLUDED.status,
				error_message    = EXCLUDED.error_message`,
			res.Symbol, strategy, paramsHash, string(mode), metrics,
			res.SignalCount, res.LastSignal, res.LastSignalTime,
			now, now.Add(r.scanTTL), scanTimes[res.Symbol],
			res.Status, res.Error); err != nil {
			r.logger.Warn("scan cache save failed", "symbol", res.Symbol, "error", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		r.logger.Warn("scan cache save failed", "error", err)
	}
}

// PurgeExpired removes stale scan results and returns how many fell.
func (r *Registry) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM scan_results WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("purge scan results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Registry) Close() error { return r.db.Close() }
