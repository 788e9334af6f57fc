package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailqueue_messages_pending",
			Help: "Number of queued messages per priority",
		},
		[]string{"priority"},
	)

	MessagesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailqueue_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		},
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailqueue_delivery_attempts_total",
			Help: "Total number of delivery attempts by result",
		},
		[]string{"result"}, // success, suppressed, failure
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailqueue_drain_duration_seconds",
			Help:    "Duration of drain passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)
