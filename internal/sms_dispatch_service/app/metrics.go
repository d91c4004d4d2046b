package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesDispatchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_dispatch",
			Name:      "messages_total",
			Help:      "Total per-recipient dispatch outcomes.",
		},
		[]string{"instance", "status"}, // status: "sent" or a failure kind
	)

	bulkBatchSizeHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sms_dispatch",
			Name:      "bulk_batch_size",
			Help:      "Recipient count per bulk dispatch call.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"instance"},
	)

	bulkDispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sms_dispatch",
			Name:      "bulk_duration_seconds",
			Help:      "Wall-clock duration of bulk dispatch calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instance"},
	)

	transportRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sms_dispatch",
			Name:      "transport_request_duration_seconds",
			Help:      "Duration of individual provider transport calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
