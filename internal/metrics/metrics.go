package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_scheduled_total",
		Help: "Accepted schedule requests by mode (near, far)",
	}, []string{"mode"})

	ScheduleRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_schedule_rejected_total",
		Help: "Rejected schedule requests by reason",
	}, []string{"reason"})

	PendingTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postflow_pending_timers",
		Help: "Timers registered in the in-process dispatcher and not yet fired",
	})

	SweepPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_sweep_promoted_total",
		Help: "Durable records promoted into the timer dispatcher",
	})

	SweepFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_sweep_failed_total",
		Help: "Durable records that failed to promote",
	})

	SweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_sweep_expired_total",
		Help: "Durable records deleted because their post time passed the overdue grace",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postflow_sweep_duration_seconds",
		Help:    "Duration of one sweep tick",
		Buckets: prometheus.DefBuckets,
	})

	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_publish_total",
		Help: "Provider publish attempts by outcome kind",
	}, []string{"provider", "kind"})

	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postflow_publish_duration_seconds",
		Help:    "Duration of one provider publish attempt",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"provider"})

	DispatchLagSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postflow_dispatch_lag_seconds",
		Help:    "Delay between the scheduled time and the start of dispatch",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)
