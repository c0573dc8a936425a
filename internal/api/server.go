// Package api serves the HTTP and WebSocket surface: market data and
// strategy catalogs, synchronous backtest and scan endpoints, a progress
// event stream and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hermes/internal/config"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. The handlers' hub must be the hub passed
// here so stream events reach connected clients.
func NewServer(cfg config.ServerConfig, handlers *Handlers, hub *Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/instruments", handlers.HandleInstruments)
	mux.HandleFunc("GET /api/data/{symbol}", handlers.HandleData)
	mux.HandleFunc("GET /api/strategies", handlers.HandleStrategies)
	mux.HandleFunc("POST /api/backtest", handlers.HandleBacktest)
	mux.HandleFunc("POST /api/scan", handlers.HandleScan)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      instrument(cors(cfg.AllowedOrigins, mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // scans can take a while
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub and serves until Stop or a listener error.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// instrument tracks the in-flight gauge and per-route latency.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricRequestsInFlight.Inc()
		defer metricRequestsInFlight.Dec()

		began := time.Now()
		next.ServeHTTP(w, r)
		metricRequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(began).Seconds())
	})
}

// cors allows the configured origins; "*" allows everything.
func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
