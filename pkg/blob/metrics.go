// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	fileOps = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_file_operations_total",
		Help: "File lifecycle operations by operation and status",
	}, []string{"op", "status"})

	bytesWritten = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_file_bytes_written_total",
		Help: "Bytes handed to storage backends",
	})

	orphanedBlobs = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_file_orphaned_blobs_total",
		Help: "Backend deletes that failed after the metadata row was removed",
	})

	quotaWarnings = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_quota_warnings_total",
		Help: "Quota warning notifications triggered",
	})

	// Cleanup sweep metrics
	sweepsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_cleanup_sweeps_total",
		Help: "Total number of expiry sweeps",
	})

	sweepDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "blobgate_cleanup_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	filesExpired = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_cleanup_files_expired_total",
		Help: "Files removed by expiry sweeps",
	})

	bytesExpired = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_cleanup_bytes_expired_total",
		Help: "Bytes removed by expiry sweeps",
	})

	sweepSkipped = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_cleanup_sweeps_skipped_total",
		Help: "Sweeps skipped because another runner held the lock",
	})
)

func observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	fileOps.WithLabelValues(op, status).Inc()
}
