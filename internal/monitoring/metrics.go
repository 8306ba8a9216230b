package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SyncJobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_jobs_processed_total",
			Help: "Total number of sync jobs processed by action and result",
		},
		[]string{"action", "result"},
	)
	SyncQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Open sync jobs (pending, errored and processing)",
		},
	)
	SyncStuckJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_stuck_jobs",
			Help: "Jobs sitting in PROCESSING past the stuck threshold",
		},
	)
	DrainCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_drain_cycle_duration_seconds",
			Help:    "Duration of queue drain cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
	HealthAlertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_alerts_emitted_total",
			Help: "Health alerts written, by flag",
		},
		[]string{"flag"},
	)
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{
		SyncJobsProcessed, SyncQueueDepth, SyncStuckJobs, DrainCycleDuration, HealthAlertsEmitted,
	} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
