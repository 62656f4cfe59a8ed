package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecipientsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_recipients_processed_total",
			Help: "Recipients processed by dispatch workers, by delivery status",
		},
		[]string{"status"},
	)

	SMTPSessionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp_session_failures_total",
			Help: "SMTP connect or transport failures that forced a reconnect",
		},
	)

	ActiveDispatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_dispatchers_active",
			Help: "Dispatch workers currently running",
		},
	)

	LaneFlushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lane_flush_failures_total",
			Help: "Persistence lane flushes that failed",
		},
		[]string{"lane"},
	)

	LaneDroppedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lane_dropped_items_total",
			Help: "Items discarded after a failed flush",
		},
		[]string{"lane"},
	)

	WebhookPosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_posts_total",
			Help: "Delivery report webhook posts, by outcome",
		},
		[]string{"outcome"},
	)

	SchedulesFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedules_fired_total",
			Help: "Scheduled batches whose timer fired",
		},
	)
)

func Init() {
	prometheus.MustRegister(RecipientsProcessed)
	prometheus.MustRegister(SMTPSessionFailures)
	prometheus.MustRegister(ActiveDispatchers)
	prometheus.MustRegister(LaneFlushFailures)
	prometheus.MustRegister(LaneDroppedItems)
	prometheus.MustRegister(WebhookPosts)
	prometheus.MustRegister(SchedulesFired)
}
