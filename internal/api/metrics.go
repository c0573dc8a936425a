package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry next to the ingest counters; all of
// them are served at /metrics.
var (
	metricRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})

	metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermes_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	metricBacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hermes_backtest_duration_seconds",
		Help:    "Wall time of backtest runs served over the API.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	metricScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hermes_scan_duration_seconds",
		Help:    "Wall time of scans served over the API.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)
