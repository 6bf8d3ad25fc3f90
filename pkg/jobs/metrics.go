// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	jobsStarted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_jobs_started_total",
		Help: "Backup and restore jobs created",
	}, []string{"kind"})

	jobsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blobgate_jobs_total",
		Help: "Jobs that reached a terminal status",
	}, []string{"kind", "status"})

	jobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blobgate_job_duration_seconds",
		Help:    "Time from job creation to its terminal status",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"kind"})

	artifactBytes = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "blobgate_backup_artifact_bytes",
		Help:    "Size of written backup artifacts after compression",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
	})

	backupsPruned = factory.NewCounter(prometheus.CounterOpts{
		Name: "blobgate_backups_pruned_total",
		Help: "Finished backups deleted after a newer backup finished",
	})
)
