// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobs runs metadata backup and restore jobs.
//
// A job is created RUNNING and ends in exactly one of FINISHED, ERROR or
// CANCELLED. Cancellation is cooperative: a run looks at the job row before it
// starts and again, with the row locked, before it persists its outcome. A cancel
// observed at either checkpoint wins over the run's result. Once terminal, a job
// never changes again.
//
// Jobs run synchronously (Backup, Restore) or on the task queue (EnqueueBackup,
// EnqueueRestore); the state machine is the same either way.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/compression"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// Checkpoints passed to a CheckpointHook.
const (
	CheckpointStart  = "start"
	CheckpointFinish = "finish"
)

// Config configures the job engine.
type Config struct {
	// Backend the snapshot artifacts are written to
	SnapshotStorage types.BackendConfig `mapstructure:"snapshot_storage"`

	// Artifact compression: none, zstd, s2 or lz4 (default: zstd)
	Compression string `mapstructure:"compression"`

	// Parallel queued jobs (default: 2)
	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	// How often the worker polls the queue (default: 1s)
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Scheduled backups of every bucket; off unless enabled
	ScheduledBackups bool          `mapstructure:"scheduled_backups"`
	BackupInterval   time.Duration `mapstructure:"backup_interval"`
}

// DefaultConfig returns the default job engine configuration
func DefaultConfig() Config {
	return Config{
		SnapshotStorage:   types.BackendConfig{Type: types.StorageTypeFilesystem, Path: "/var/lib/blobgate/snapshots"},
		Compression:       string(compression.ZSTD),
		WorkerConcurrency: taskqueue.DefaultConcurrency,
		PollInterval:      taskqueue.DefaultPollInterval,
		BackupInterval:    24 * time.Hour,
	}
}

// BucketResolver resolves bucket configurations by internal id.
type BucketResolver interface {
	ByInternalID(id string) (bucket.Config, bool)
}

// CheckpointHook runs just before a checkpoint inspects the job row.
type CheckpointHook func(ctx context.Context, job types.Job, checkpoint string)

// Engine creates, runs and cancels jobs.
type Engine struct {
	db         db.DB
	buckets    BucketResolver
	snapshots  types.Backend
	algo       compression.Algorithm
	queue      taskqueue.Queue
	now        func() time.Time
	checkpoint CheckpointHook
}

type Option func(*Engine)

func WithCompression(algo compression.Algorithm) Option {
	return func(e *Engine) { e.algo = algo }
}

// WithQueue enables EnqueueBackup and EnqueueRestore.
func WithQueue(q taskqueue.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithCheckpointHook(h CheckpointHook) Option {
	return func(e *Engine) { e.checkpoint = h }
}

func NewEngine(store db.DB, buckets BucketResolver, snapshots types.Backend, opts ...Option) *Engine {
	e := &Engine{
		db:        store,
		buckets:   buckets,
		snapshots: snapshots,
		algo:      compression.ZSTD,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func jobNotFound(kind types.JobKind, id string) error {
	return apierr.NotFound("blob:job-not-found", "%s job %s not found", kind, id)
}

// GetJob returns a copy of the job.
func (e *Engine) GetJob(ctx context.Context, kind types.JobKind, id string) (types.Job, error) {
	j, err := e.db.GetJob(ctx, kind, id)
	if errors.Is(err, db.ErrJobNotFound) {
		return types.Job{}, jobNotFound(kind, id)
	}
	if err != nil {
		return types.Job{}, apierr.Internal("blob:metadata-read-failed", err, "read %s job %s", kind, id)
	}
	return j.Clone(), nil
}

// ListJobs returns jobs newest first.
func (e *Engine) ListJobs(ctx context.Context, params db.ListJobsParams) ([]types.Job, error) {
	rows, err := e.db.ListJobs(ctx, params)
	if err != nil {
		return nil, apierr.Internal("blob:metadata-read-failed", err, "list jobs")
	}
	out := make([]types.Job, len(rows))
	for i, j := range rows {
		out[i] = j.Clone()
	}
	return out, nil
}

// CancelBackup marks a running backup job CANCELLED.
func (e *Engine) CancelBackup(ctx context.Context, id string) (types.Job, error) {
	return e.cancel(ctx, types.JobKindBackup, id)
}

// CancelRestore marks a running restore job CANCELLED.
func (e *Engine) CancelRestore(ctx context.Context, id string) (types.Job, error) {
	return e.cancel(ctx, types.JobKindRestore, id)
}

func (e *Engine) cancel(ctx context.Context, kind types.JobKind, id string) (types.Job, error) {
	var out types.Job
	err := e.db.WithTx(ctx, func(tx db.TxStore) error {
		j, err := tx.GetJobForUpdate(ctx, kind, id)
		if errors.Is(err, db.ErrJobNotFound) {
			return jobNotFound(kind, id)
		}
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return apierr.Conflict("blob:cannot-cancel-finished-job",
				"%s job %s is already %s", kind, id, j.Status)
		}
		now := e.clock()
		j.Status = types.JobStatusCancelled
		j.Finished = &now
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		out = j.Clone()
		return nil
	})
	if err != nil {
		if _, ok := apierr.As(err); ok {
			return types.Job{}, err
		}
		return types.Job{}, apierr.Internal("blob:metadata-write-failed", err, "cancel %s job %s", kind, id)
	}

	jobsTotal.WithLabelValues(string(kind), string(types.JobStatusCancelled)).Inc()
	logger.Ctx(ctx).Info().Str("job_id", id).Str("kind", string(kind)).Msg("job cancelled")
	return out, nil
}

// create persists a new RUNNING job.
func (e *Engine) create(ctx context.Context, j types.Job) (types.Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return types.Job{}, apierr.Internal("blob:id-generation-failed", err, "generate job id")
	}
	j.ID = id.String()
	j.Status = types.JobStatusRunning
	j.Started = e.clock()

	err = e.db.WithTx(ctx, func(tx db.TxStore) error {
		return tx.CreateJob(ctx, &j)
	})
	if err != nil {
		return types.Job{}, apierr.Internal("blob:metadata-write-failed", err, "create %s job", j.Kind)
	}
	jobsStarted.WithLabelValues(string(j.Kind)).Inc()
	return j, nil
}

// startCheckpoint reports the job row as it stands before the run begins.
// ok is false when the job is no longer RUNNING.
func (e *Engine) startCheckpoint(ctx context.Context, kind types.JobKind, id string) (types.Job, bool, error) {
	j, err := e.GetJob(ctx, kind, id)
	if err != nil {
		return types.Job{}, false, err
	}
	if e.checkpoint != nil {
		e.checkpoint(ctx, j, CheckpointStart)
		if j, err = e.GetJob(ctx, kind, id); err != nil {
			return types.Job{}, false, err
		}
	}
	if j.Status != types.JobStatusRunning {
		logger.Ctx(ctx).Info().
			Str("job_id", id).
			Str("kind", string(kind)).
			Str("status", string(j.Status)).
			Msg("job is no longer running, skipping")
		return j, false, nil
	}
	return j, true, nil
}

// finish persists the outcome of a run with the job row locked. apply fills in a
// successful result; it is skipped when runErr is set. A job that was cancelled
// meanwhile stays cancelled, and finish reports that through cancelled. A job
// some other run already settled is returned as stored.
func (e *Engine) finish(ctx context.Context, j types.Job, runErr error, apply func(tx db.TxStore, j *types.Job) error) (out types.Job, cancelled bool, err error) {
	if e.checkpoint != nil {
		e.checkpoint(ctx, j, CheckpointFinish)
	}

	// Persist even when the caller's context is gone
	ctx = context.WithoutCancel(ctx)

	var superseded bool
	persist := func(runErr error) error {
		return e.db.WithTx(ctx, func(tx db.TxStore) error {
			row, err := tx.GetJobForUpdate(ctx, j.Kind, j.ID)
			if err != nil {
				return err
			}
			if row.Status != types.JobStatusRunning {
				superseded = true
				cancelled = row.Status == types.JobStatusCancelled
				out = row.Clone()
				return nil
			}

			superseded, cancelled = false, false
			now := e.clock()
			row.Finished = &now
			if runErr == nil {
				if err := apply(tx, row); err != nil {
					return err
				}
				row.Status = types.JobStatusFinished
			} else {
				row.Status = types.JobStatusError
				row.ErrorID = apierr.IDOf(runErr)
				row.ErrorMessage = apierr.MessageOf(runErr)
			}
			if err := tx.UpdateJob(ctx, row); err != nil {
				return err
			}
			out = row.Clone()
			return nil
		})
	}

	err = persist(runErr)
	if err != nil && runErr == nil {
		// The success write itself failed; record that failure instead.
		runErr = err
		err = persist(runErr)
	}
	if err != nil {
		return types.Job{}, false, apierr.Internal("blob:metadata-write-failed", err, "persist %s job %s", j.Kind, j.ID)
	}

	log := logger.Ctx(ctx)
	if superseded {
		return out, cancelled, nil
	}
	jobsTotal.WithLabelValues(string(j.Kind), string(out.Status)).Inc()
	jobDuration.WithLabelValues(string(j.Kind)).Observe(time.Since(j.Started).Seconds())

	if out.Status == types.JobStatusError {
		log.Error().Err(runErr).
			Str("job_id", out.ID).
			Str("kind", string(out.Kind)).
			Str("error_id", out.ErrorID).
			Msg("job failed")
		report(runErr, out)
		return out, false, runErr
	}
	log.Info().
		Str("job_id", out.ID).
		Str("kind", string(out.Kind)).
		Str("status", string(out.Status)).
		Int64("files", out.FileCount).
		Msg("job finished")
	return out, cancelled, nil
}

// report sends unexpected failures to Sentry. Typed errors are expected
// outcomes and are only recorded on the job.
func report(err error, j types.Job) {
	if e, ok := apierr.As(err); ok && e.Kind != apierr.KindInternal {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_kind", string(j.Kind))
		scope.SetTag("job_id", j.ID)
		scope.SetTag("bucket_id", j.BucketID)
		sentry.CaptureException(err)
	})
}
