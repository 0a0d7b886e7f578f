package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbox publisher metrics
	outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_outbox_published_total",
			Help: "Total number of outbox rows published to the broker",
		},
		[]string{"service", "event_type"},
	)

	outboxPublishFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_outbox_publish_failed_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"service", "event_type"},
	)

	outboxDeadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_outbox_dead_total",
			Help: "Total number of outbox rows moved to FAILED after retry exhaustion",
		},
		[]string{"service"},
	)

	// Consumer metrics
	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"service", "queue"},
	)

	messagesDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_messages_dlq_total",
			Help: "Total number of messages negatively acknowledged into the DLQ",
		},
		[]string{"service", "queue", "reason"},
	)

	duplicateSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_duplicate_skips_total",
			Help: "Total number of deliveries skipped by the idempotency ledger",
		},
		[]string{"service", "queue"},
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_consumer_retry_attempts_total",
			Help: "Total number of local consumer retry attempts",
		},
		[]string{"service", "queue"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpipe_message_processing_duration_seconds",
			Help:    "Message processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "queue"},
	)
)

func RecordPublished(service, eventType string) {
	outboxPublishedTotal.WithLabelValues(service, eventType).Inc()
}

func RecordPublishFailed(service, eventType string) {
	outboxPublishFailedTotal.WithLabelValues(service, eventType).Inc()
}

func RecordOutboxDead(service string) {
	outboxDeadTotal.WithLabelValues(service).Inc()
}

func RecordConsumed(service, queue string) {
	messagesConsumedTotal.WithLabelValues(service, queue).Inc()
}

func RecordDLQ(service, queue, reason string) {
	messagesDLQTotal.WithLabelValues(service, queue, reason).Inc()
}

func RecordDuplicateSkip(service, queue string) {
	duplicateSkipsTotal.WithLabelValues(service, queue).Inc()
}

func RecordRetryAttempt(service, queue string) {
	retryAttemptsTotal.WithLabelValues(service, queue).Inc()
}

func RecordProcessingDuration(service, queue string, d time.Duration) {
	processingDuration.WithLabelValues(service, queue).Observe(d.Seconds())
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
