// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// Metrics for database operations
var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobgate_db_query_duration_seconds",
			Help:    "Duration of metadata database operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobgate_db_queries_total",
			Help: "Total number of metadata database operations",
		},
		[]string{"operation", "status"},
	)

	dbConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobgate_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobgate_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func init() {
	debug.Registry().MustRegister(
		dbQueryDuration,
		dbQueryTotal,
		dbConnectionsActive,
		dbConnectionsIdle,
	)
}

// UpdateConnectionMetrics updates connection pool metrics from sql.DBStats
func UpdateConnectionMetrics(stats sql.DBStats) {
	dbConnectionsActive.Set(float64(stats.InUse))
	dbConnectionsIdle.Set(float64(stats.Idle))
}

// recordMetric records timing and status for an operation. Not-found results are
// expected outcomes and are labelled separately from errors.
func recordMetric(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrJobNotFound), errors.Is(err, ErrBucketLockNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(duration)
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

// MetricsDB wraps a DB implementation and adds metrics instrumentation
type MetricsDB struct {
	db DB
}

var _ DB = (*MetricsDB)(nil)

func NewMetricsDB(db DB) *MetricsDB {
	return &MetricsDB{db: db}
}

// Unwrap returns the underlying DB implementation
func (m *MetricsDB) Unwrap() DB {
	return m.db
}

func (m *MetricsDB) Close() error {
	return m.db.Close()
}

func (m *MetricsDB) Migrate(ctx context.Context) error {
	start := time.Now()
	err := m.db.Migrate(ctx)
	recordMetric("migrate", start, err)
	return err
}

func (m *MetricsDB) WithTx(ctx context.Context, fn func(tx TxStore) error) error {
	start := time.Now()
	err := m.db.WithTx(ctx, func(tx TxStore) error {
		return fn(&metricsTxStore{tx: tx})
	})
	recordMetric("transaction", start, err)
	return err
}

func (m *MetricsDB) GetFile(ctx context.Context, id string) (*types.FileData, error) {
	start := time.Now()
	f, err := m.db.GetFile(ctx, id)
	recordMetric("get_file", start, err)
	return f, err
}

func (m *MetricsDB) ListFiles(ctx context.Context, params ListFilesParams) ([]*types.FileData, error) {
	start := time.Now()
	files, err := m.db.ListFiles(ctx, params)
	recordMetric("list_files", start, err)
	return files, err
}

func (m *MetricsDB) CountFiles(ctx context.Context, bucketID string) (int64, error) {
	start := time.Now()
	n, err := m.db.CountFiles(ctx, bucketID)
	recordMetric("count_files", start, err)
	return n, err
}

func (m *MetricsDB) SumFileSizes(ctx context.Context, bucketID string) (int64, error) {
	start := time.Now()
	n, err := m.db.SumFileSizes(ctx, bucketID)
	recordMetric("sum_file_sizes", start, err)
	return n, err
}

func (m *MetricsDB) GetBucketSize(ctx context.Context, bucketID string) (int64, error) {
	start := time.Now()
	n, err := m.db.GetBucketSize(ctx, bucketID)
	recordMetric("get_bucket_size", start, err)
	return n, err
}

func (m *MetricsDB) GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error) {
	start := time.Now()
	l, err := m.db.GetBucketLock(ctx, bucketID)
	recordMetric("get_bucket_lock", start, err)
	return l, err
}

func (m *MetricsDB) GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	start := time.Now()
	j, err := m.db.GetJob(ctx, kind, id)
	recordMetric("get_job", start, err)
	return j, err
}

func (m *MetricsDB) ListJobs(ctx context.Context, params ListJobsParams) ([]*types.Job, error) {
	start := time.Now()
	jobs, err := m.db.ListJobs(ctx, params)
	recordMetric("list_jobs", start, err)
	return jobs, err
}

// ============================================================================
// Transaction wrapper
// ============================================================================

// metricsTxStore records per-statement metrics inside a transaction. Reads are
// delegated without instrumentation; the enclosing transaction is timed as a whole.
type metricsTxStore struct {
	tx TxStore
}

func (t *metricsTxStore) GetFile(ctx context.Context, id string) (*types.FileData, error) {
	return t.tx.GetFile(ctx, id)
}

func (t *metricsTxStore) ListFiles(ctx context.Context, params ListFilesParams) ([]*types.FileData, error) {
	return t.tx.ListFiles(ctx, params)
}

func (t *metricsTxStore) CountFiles(ctx context.Context, bucketID string) (int64, error) {
	return t.tx.CountFiles(ctx, bucketID)
}

func (t *metricsTxStore) SumFileSizes(ctx context.Context, bucketID string) (int64, error) {
	return t.tx.SumFileSizes(ctx, bucketID)
}

func (t *metricsTxStore) GetBucketSize(ctx context.Context, bucketID string) (int64, error) {
	return t.tx.GetBucketSize(ctx, bucketID)
}

func (t *metricsTxStore) GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error) {
	return t.tx.GetBucketLock(ctx, bucketID)
}

func (t *metricsTxStore) GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	return t.tx.GetJob(ctx, kind, id)
}

func (t *metricsTxStore) ListJobs(ctx context.Context, params ListJobsParams) ([]*types.Job, error) {
	return t.tx.ListJobs(ctx, params)
}

func (t *metricsTxStore) CreateFile(ctx context.Context, f *types.FileData) error {
	start := time.Now()
	err := t.tx.CreateFile(ctx, f)
	recordMetric("tx_create_file", start, err)
	return err
}

func (t *metricsTxStore) UpdateFile(ctx context.Context, f *types.FileData) error {
	start := time.Now()
	err := t.tx.UpdateFile(ctx, f)
	recordMetric("tx_update_file", start, err)
	return err
}

func (t *metricsTxStore) DeleteFile(ctx context.Context, id string) error {
	start := time.Now()
	err := t.tx.DeleteFile(ctx, id)
	recordMetric("tx_delete_file", start, err)
	return err
}

func (t *metricsTxStore) DeleteFilesByBucket(ctx context.Context, bucketID string) (int64, error) {
	start := time.Now()
	n, err := t.tx.DeleteFilesByBucket(ctx, bucketID)
	recordMetric("tx_delete_files_by_bucket", start, err)
	return n, err
}

func (t *metricsTxStore) GetFileForUpdate(ctx context.Context, id string) (*types.FileData, error) {
	start := time.Now()
	f, err := t.tx.GetFileForUpdate(ctx, id)
	recordMetric("tx_get_file_for_update", start, err)
	return f, err
}

func (t *metricsTxStore) AddBucketSize(ctx context.Context, bucketID string, delta int64) (int64, error) {
	start := time.Now()
	n, err := t.tx.AddBucketSize(ctx, bucketID, delta)
	recordMetric("tx_add_bucket_size", start, err)
	return n, err
}

func (t *metricsTxStore) SetBucketSize(ctx context.Context, bucketID string, size int64) error {
	start := time.Now()
	err := t.tx.SetBucketSize(ctx, bucketID, size)
	recordMetric("tx_set_bucket_size", start, err)
	return err
}

func (t *metricsTxStore) PutBucketLock(ctx context.Context, lock *types.BucketLock) error {
	start := time.Now()
	err := t.tx.PutBucketLock(ctx, lock)
	recordMetric("tx_put_bucket_lock", start, err)
	return err
}

func (t *metricsTxStore) DeleteBucketLock(ctx context.Context, bucketID string) error {
	start := time.Now()
	err := t.tx.DeleteBucketLock(ctx, bucketID)
	recordMetric("tx_delete_bucket_lock", start, err)
	return err
}

func (t *metricsTxStore) CreateJob(ctx context.Context, job *types.Job) error {
	start := time.Now()
	err := t.tx.CreateJob(ctx, job)
	recordMetric("tx_create_job", start, err)
	return err
}

func (t *metricsTxStore) GetJobForUpdate(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	start := time.Now()
	j, err := t.tx.GetJobForUpdate(ctx, kind, id)
	recordMetric("tx_get_job_for_update", start, err)
	return j, err
}

func (t *metricsTxStore) UpdateJob(ctx context.Context, job *types.Job) error {
	start := time.Now()
	err := t.tx.UpdateJob(ctx, job)
	recordMetric("tx_update_job", start, err)
	return err
}

func (t *metricsTxStore) DeleteJob(ctx context.Context, kind types.JobKind, id string) error {
	start := time.Now()
	err := t.tx.DeleteJob(ctx, kind, id)
	recordMetric("tx_delete_job", start, err)
	return err
}
