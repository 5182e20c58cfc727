package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for MessagesProcessed
const (
	ResultUpdated    = "updated"
	ResultIncomplete = "incomplete"
	ResultFailed     = "failed"
	ResultSkipped    = "skipped"
)

// Metrics for monitoring
var (
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_messages_processed_total",
		Help: "Messages run through the enrichment pipeline, by loop and outcome",
	}, []string{"loop", "result"})

	FetchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enricher_fetch_seconds",
		Help:    "Time spent fetching a transaction payload from a chain",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms up to ~25s
	}, []string{"chain"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_fetch_errors_total",
		Help: "Failed payload fetches by chain",
	}, []string{"chain"})

	RetryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_retry_exhausted_total",
		Help: "Messages skipped because their retry budget ran out",
	})

	RetryMapSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enricher_retry_map_size",
		Help: "Number of message ids currently tracked by the retry map",
	})

	BackupPassUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_backup_pass_updated_total",
		Help: "Rows written by the scheduled reconciliation pass",
	})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_notifications_total",
		Help: "Change notifications received from the store",
	})
)
