// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Total number of notification requests enqueued",
		},
		[]string{"channel", "trigger"},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Total number of notification requests dropped at dispatch",
		},
		[]string{"channel", "reason"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"channel"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"channel", "error_code", "terminal"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Duration of a single transport call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	QueueClaimed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_queue_claimed",
			Help: "Number of requests claimed by the last worker tick",
		},
		[]string{"channel"},
	)

	QueueRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_queue_requeued_total",
			Help: "Total number of stale processing requests returned to pending",
		},
	)

	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_tracking_events_total",
			Help: "Total number of tracking hits",
		},
		[]string{"event_type", "recorded"},
	)
)
