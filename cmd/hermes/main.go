// hermes — minute-candle ingestion and backtesting for NSE equities.
//
// The CLI fronts three concerns:
//
//	ingestion  — fetch/sync pull chunked history from the Zerodha Kite API
//	             through a token-bucket rate limiter into parquet sinks
//	             (local disk, Cloudflare R2 or Oracle Object Storage),
//	             resuming from the last stored candle.
//	research   — backtest/scan run strategies over stored data with the
//	             vector or event engine and print ranked metrics.
//	serving    — serve exposes the HTTP/WebSocket API; sync-registry and
//	             the Postgres registry keep the instrument catalog, load
//	             audit trail and scan cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hermes/internal/api"
	"hermes/internal/backtest"
	"hermes/internal/cache"
	"hermes/internal/config"
	"hermes/internal/ingest"
	"hermes/internal/market"
	"hermes/internal/registry"
	"hermes/internal/scanner"
	"hermes/internal/sink"
	"hermes/internal/source"
	"hermes/internal/strategy"
	"hermes/pkg/types"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries what every command needs after config resolution.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func rootCmd() *cobra.Command {
	var cfgPath string
	a := &app{}

	root := &cobra.Command{
		Use:           "hermes",
		Short:         "Minute-candle ingestion and backtesting service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = buildLogger(cfg.Logging)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default: configs/config.yaml)")

	root.AddCommand(
		fetchCmd(a),
		syncCmd(a),
		listSymbolsCmd(a),
		configCmd(a),
		backtestCmd(a),
		scanCmd(a),
		serveCmd(a),
		syncRegistryCmd(a),
	)
	return root
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openRegistry connects the Postgres registry when enabled. A down
// database is a warning, not a failure: everything the registry feeds is
// optional.
func openRegistry(ctx context.Context, a *app) *registry.Registry {
	if !a.cfg.Database.RegistryEnabled || a.cfg.Database.URL == "" {
		return nil
	}
	db, err := registry.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		a.logger.Warn("registry unavailable", "error", err)
		return nil
	}
	reg := registry.New(db, a.cfg.Scanner.CacheTTL, a.logger)
	if err := reg.EnsureSchema(ctx); err != nil {
		a.logger.Warn("registry schema setup failed", "error", err)
		reg.Close()
		return nil
	}
	return reg
}

// buildMarketService assembles sink + cache + registry into the data
// service. The returned closer releases everything.
func buildMarketService(ctx context.Context, a *app, reg *registry.Registry) (*market.Service, func(), error) {
	snk, err := sink.New(a.cfg.Sink, a.logger)
	if err != nil {
		return nil, nil, err
	}

	var frameCache cache.Cache
	if a.cfg.Cache.Enabled {
		switch a.cfg.Cache.Backend {
		case "durable":
			db, err := registry.Connect(ctx, a.cfg.Database.URL)
			if err != nil {
				snk.Close()
				return nil, nil, fmt.Errorf("durable cache: %w", err)
			}
			durable := cache.NewDurable(db, a.cfg.Cache.MaxSizeMB, a.cfg.Cache.TTL, a.logger)
			if err := durable.EnsureSchema(ctx); err != nil {
				durable.Close()
				snk.Close()
				return nil, nil, fmt.Errorf("durable cache schema: %w", err)
			}
			frameCache = durable
		default:
			frameCache = cache.NewMemory(a.cfg.Cache.MaxSizeMB, a.logger)
		}
	}

	var loadLog market.LoadLogger
	if reg != nil {
		loadLog = reg
	}

	svc := market.NewService(snk, frameCache, loadLog, a.logger)
	closer := func() {
		if frameCache != nil {
			frameCache.Close()
		}
		snk.Close()
	}
	return svc, closer, nil
}

// ————————————————————————————————————————————————————————————————————————
// Ingestion commands
// ————————————————————————————————————————————————————————————————————————

func fetchCmd(a *app) *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch full history for one symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateIngest(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			src, err := source.NewZerodha(a.cfg.Source, a.logger)
			if err != nil {
				return err
			}
			snk, err := sink.New(a.cfg.Sink, a.logger)
			if err != nil {
				src.Close()
				return err
			}
			defer snk.Close()

			symbol = strings.ToUpper(symbol)
			token, err := findToken(src, symbol)
			if err != nil {
				src.Close()
				return err
			}

			tracker := ingest.NewLogTracker(a.logger, false)
			orch := ingest.NewOrchestrator(src, snk, a.cfg.Source, tracker, a.logger)
			defer orch.Close()

			if ok := orch.FetchSymbol(ctx, symbol, token); !ok {
				return fmt.Errorf("fetch failed for %s", symbol)
			}

			if reg := openRegistry(ctx, a); reg != nil {
				defer reg.Close()
				recordAvailability(ctx, a, reg, snk, symbol)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading symbol to fetch")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func syncCmd(a *app) *cobra.Command {
	var (
		limit       int
		concurrency int
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync history for the whole instrument universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateIngest(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			src, err := source.NewZerodha(a.cfg.Source, a.logger)
			if err != nil {
				return err
			}
			snk, err := sink.New(a.cfg.Sink, a.logger)
			if err != nil {
				src.Close()
				return err
			}
			defer snk.Close()

			tracker := ingest.NewLogTracker(a.logger, quiet)
			orch := ingest.NewOrchestrator(src, snk, a.cfg.Source, tracker, a.logger)

			results, err := orch.Sync(ctx, nil, limit, concurrency)
			if err != nil {
				return err
			}

			failed := 0
			var succeeded []string
			for sym, ok := range results {
				if ok {
					succeeded = append(succeeded, sym)
				} else {
					failed++
				}
			}

			if reg := openRegistry(ctx, a); reg != nil {
				defer reg.Close()
				recordAvailability(ctx, a, reg, snk, succeeded...)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d symbols failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max symbols to sync (0 = all)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel symbol fetches (default from config)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress per-symbol progress output")
	return cmd
}

func findToken(src source.DataSource, symbol string) (int64, error) {
	instruments, err := src.Instruments()
	if err != nil {
		return 0, err
	}
	for _, inst := range instruments {
		if strings.EqualFold(inst.Symbol, symbol) {
			return inst.Token, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found in the instrument file", symbol)
}

// recordAvailability upserts per-symbol coverage after an ingest.
// Best-effort: failures are logged and dropped.
func recordAvailability(ctx context.Context, a *app, reg *registry.Registry, snk sink.DataSink, symbols ...string) {
	for _, sym := range symbols {
		candles, err := snk.Read(ctx, sym)
		if err != nil || len(candles) == 0 {
			continue
		}
		err = reg.UpsertAvailability(ctx, registry.Availability{
			Symbol:    sym,
			Timeframe: "1m",
			StartDate: candles[0].Timestamp,
			EndDate:   candles[len(candles)-1].Timestamp,
			RowCount:  int64(len(candles)),
		})
		if err != nil {
			a.logger.Warn("availability upsert failed", "symbol", sym, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Inspection commands
// ————————————————————————————————————————————————————————————————————————

func listSymbolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-symbols",
		Short: "List symbols with stored data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			snk, err := sink.New(a.cfg.Sink, a.logger)
			if err != nil {
				return err
			}
			defer snk.Close()

			symbols, err := snk.ListSymbols(ctx)
			if err != nil {
				return err
			}
			for _, sym := range symbols {
				fmt.Fprintln(cmd.OutOrStdout(), sym)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d symbols\n", len(symbols))
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := a.cfg
			fmt.Fprintf(out, "source.provider:      %s\n", c.Source.Provider)
			fmt.Fprintf(out, "source.enctoken:      %s\n", redact(c.Source.Enctoken))
			fmt.Fprintf(out, "source.user_id:       %s\n", redact(c.Source.UserID))
			fmt.Fprintf(out, "source.rate_per_sec:  %g\n", c.Source.RatePerSec)
			fmt.Fprintf(out, "source.concurrency:   %d\n", c.Source.Concurrency)
			fmt.Fprintf(out, "source.chunk_days:    %d\n", c.Source.ChunkDays)
			fmt.Fprintf(out, "source.start_date:    %s\n", c.Source.StartDate)
			fmt.Fprintf(out, "sink.provider:        %s\n", c.Sink.Provider)
			fmt.Fprintf(out, "sink.path:            %s\n", c.Sink.Path)
			fmt.Fprintf(out, "sink.bucket:          %s\n", c.Sink.Bucket)
			fmt.Fprintf(out, "sink.access_key_id:   %s\n", redact(c.Sink.AccessKeyID))
			fmt.Fprintf(out, "sink.secret_key:      %s\n", redact(c.Sink.SecretAccessKey))
			fmt.Fprintf(out, "cache.backend:        %s (enabled=%t, %d MB, ttl %s)\n",
				c.Cache.Backend, c.Cache.Enabled, c.Cache.MaxSizeMB, c.Cache.TTL)
			fmt.Fprintf(out, "database.url:         %s\n", redact(c.Database.URL))
			fmt.Fprintf(out, "database.registry:    %t\n", c.Database.RegistryEnabled)
			fmt.Fprintf(out, "scanner.concurrency:  %d\n", c.Scanner.MaxConcurrency)
			fmt.Fprintf(out, "server.port:          %d\n", c.Server.Port)
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "[redacted]"
}

// ————————————————————————————————————————————————————————————————————————
// Research commands
// ————————————————————————————————————————————————————————————————————————

func backtestCmd(a *app) *cobra.Command {
	var (
		symbol, strategyName, mode, timeframe string
		start, end, paramsJSON                string
		cash                                  float64
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run one strategy over one symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			params, err := parseParams(paramsJSON)
			if err != nil {
				return err
			}

			svc, closer, err := buildMarketService(ctx, a, nil)
			if err != nil {
				return err
			}
			defer closer()

			bt := backtest.NewService(svc, strategy.NewRegistry(), a.logger)
			req := types.BacktestRequest{
				Symbol:      symbol,
				Strategy:    strategyName,
				Params:      params,
				InitialCash: cash,
				Mode:        types.BacktestMode(mode),
				StartDate:   start,
				EndDate:     end,
				Timeframe:   timeframe,
			}
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}

			resp, err := bt.Run(ctx, req)
			if err != nil {
				return err
			}
			printMetrics(cmd, resp.Metrics)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading symbol")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "strategy name")
	cmd.Flags().StringVar(&paramsJSON, "params", "", `strategy params as JSON, e.g. '{"fast_period":20}'`)
	cmd.Flags().StringVar(&mode, "mode", "vector", "execution mode: vector or event")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1h", "analysis timeframe")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	cmd.Flags().Float64Var(&cash, "cash", 100000, "initial cash")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("strategy")
	return cmd
}

func scanCmd(a *app) *cobra.Command {
	var (
		strategyName, mode, timeframe string
		start, end, paramsJSON        string
		symbols                       []string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one strategy across many symbols and rank the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			params, err := parseParams(paramsJSON)
			if err != nil {
				return err
			}

			reg := openRegistry(ctx, a)
			if reg != nil {
				defer reg.Close()
			}
			svc, closer, err := buildMarketService(ctx, a, reg)
			if err != nil {
				return err
			}
			defer closer()

			bt := backtest.NewService(svc, strategy.NewRegistry(), a.logger)
			var results scanner.ResultCache
			if reg != nil {
				results = reg
			}
			sc := scanner.New(bt, svc, results, a.cfg.Scanner.MaxConcurrency, a.logger)

			resp, err := sc.Run(ctx, types.ScanRequest{
				Strategy:  strategyName,
				Params:    params,
				Symbols:   symbols,
				Mode:      types.BacktestMode(mode),
				StartDate: start,
				EndDate:   end,
				Timeframe: timeframe,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, r := range resp.Results {
				status := r.Status
				if r.Status == "error" {
					fmt.Fprintf(out, "%3d  %-12s %-8s %s\n", i+1, r.Symbol, status, r.Error)
					continue
				}
				fmt.Fprintf(out, "%3d  %-12s %-8s return=%-10s signals=%d\n",
					i+1, r.Symbol, status, r.Metrics["Total Return"], r.SignalCount)
			}
			fmt.Fprintf(out, "%d symbols: %d completed (%d cached), %d failed in %dms\n",
				resp.TotalSymbols, resp.Completed, resp.CachedCount, resp.Failed, resp.ElapsedMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "strategy name")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to scan (default: everything stored)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "strategy params as JSON")
	cmd.Flags().StringVar(&mode, "mode", "vector", "execution mode: vector or event")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1h", "analysis timeframe")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	cmd.MarkFlagRequired("strategy")
	return cmd
}

func parseParams(raw string) (map[string]float64, error) {
	if raw == "" {
		return map[string]float64{}, nil
	}
	params := map[string]float64{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parse --params: %w", err)
	}
	return params, nil
}

func printMetrics(cmd *cobra.Command, metrics map[string]string) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", k, metrics[k])
	}
}

// ————————————————————————————————————————————————————————————————————————
// Serving commands
// ————————————————————————————————————————————————————————————————————————

func serveCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			if port > 0 {
				a.cfg.Server.Port = port
			}

			reg := openRegistry(ctx, a)
			if reg != nil {
				defer reg.Close()
			}
			svc, closer, err := buildMarketService(ctx, a, reg)
			if err != nil {
				return err
			}
			defer closer()

			strategies := strategy.NewRegistry()
			bt := backtest.NewService(svc, strategies, a.logger)
			var results scanner.ResultCache
			if reg != nil {
				results = reg
			}
			sc := scanner.New(bt, svc, results, a.cfg.Scanner.MaxConcurrency, a.logger)

			hub := api.NewHub(a.logger)
			handlers := api.NewHandlers(svc, bt, strategies, sc, hub, a.logger)
			server := api.NewServer(a.cfg.Server, handlers, hub, a.logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			return server.Stop()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

func syncRegistryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-registry",
		Short: "Upsert the instrument CSV into the Postgres registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			instruments, err := source.LoadInstruments(a.cfg.Source.InstrumentFile)
			if err != nil {
				return err
			}

			db, err := registry.Connect(ctx, a.cfg.Database.URL)
			if err != nil {
				return err
			}
			reg := registry.New(db, a.cfg.Scanner.CacheTTL, a.logger)
			defer reg.Close()

			if err := reg.EnsureSchema(ctx); err != nil {
				return err
			}
			count, err := reg.SyncInstruments(ctx, instruments)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d instruments\n", count)
			return nil
		},
	}
}
