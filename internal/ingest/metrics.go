package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters registered on the default registry; the API server exposes them
// at /metrics.
var (
	metricChunksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermes_ingest_chunks_fetched_total",
		Help: "Non-empty candle chunks fetched from the upstream source.",
	})

	metricRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermes_ingest_rows_written_total",
		Help: "Candle rows handed to the sink, before dedupe.",
	})

	metricSymbolsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_ingest_symbols_completed_total",
		Help: "Symbols finished by a sync, labeled by outcome.",
	}, []string{"status"})
)
