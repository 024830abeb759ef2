package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Per-pipeline extraction outcomes.
	RecordsScraped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_records_total",
			Help: "Raw records extracted per pipeline.",
		},
		[]string{"pipeline"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_records_dropped_total",
			Help: "Records dropped per pipeline (validation failure or malformed stride).",
		},
		[]string{"pipeline", "reason"},
	)

	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_pipeline_errors_total",
			Help: "Failed pipeline steps (resolve, extract, submit).",
		},
		[]string{"pipeline", "step"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_extraction_duration_seconds",
			Help:    "Duration of page extraction per pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~40s
		},
		[]string{"pipeline"},
	)

	// Ingest API write outcomes.
	IngestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Ingestion API requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	PriceBarsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_price_bars_inserted_total",
			Help: "Price bars written (duplicates excluded).",
		},
	)

	PriceBarsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_price_bars_duplicate_total",
			Help: "Price bars skipped because the (instrument, timestamp) pair already existed.",
		},
	)

	// Event bus outcomes.
	NATSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "NATS messages published by subject and status.",
		},
		[]string{"subject", "status"},
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Latency of NATS publish calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)
)

// ObserveDuration records the elapsed time since start on a histogram vec.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

// StartServer exposes /metrics on its own listener.
func StartServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(addr, mux) //nolint:gosec
	}()
}
