package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquisitionTotal counts acquisition requests by terminal status.
	AcquisitionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_acquisitions_total",
			Help: "Total number of acquisition requests by terminal status",
		},
		[]string{"status"},
	)

	AcquisitionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flotilla_acquisition_duration_seconds",
			Help:    "Acquisition latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	WorkersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flotilla_workers",
			Help: "Number of pool workers by lifecycle status",
		},
		[]string{"status"},
	)

	SpawnAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_spawn_attempts_total",
			Help: "Total worker spawn attempts by outcome",
		},
		[]string{"outcome"},
	)

	ReuseRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_reuse_rate",
			Help: "Fraction of assignments served by reused workers",
		},
	)

	StaleReportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_stale_completion_reports_total",
			Help: "Completion reports dropped because no assignment was tracked",
		},
	)
)
