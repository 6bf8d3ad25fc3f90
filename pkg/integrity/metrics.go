package integrity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	runsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_integrity_runs_total",
		Help: "Per-bucket consistency check runs by check and status",
	}, []string{"check", "status"})

	runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blobgate_integrity_run_duration_seconds",
		Help:    "Duration of one consistency check over one bucket",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"check"})

	findingsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_integrity_findings_total",
		Help: "Discrepancies found by consistency checks",
	}, []string{"check", "kind"})

	scheduledSkipped = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_integrity_scheduled_runs_skipped_total",
		Help: "Scheduled runs skipped because another runner held the lock",
	})
)
