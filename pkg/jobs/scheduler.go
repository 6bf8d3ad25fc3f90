// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/lock"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

const schedulerLockKey = "backup"

// BucketLister lists every configured bucket.
type BucketLister interface {
	All() []bucket.Config
}

// Scheduler starts a backup of every bucket on an interval. Backups go through
// the task queue when the engine has one and run inline otherwise.
type Scheduler struct {
	engine  *Engine
	buckets BucketLister
	locker  lock.Locker
	config  Config

	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(engine *Engine, buckets BucketLister, locker lock.Locker, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:  engine,
		buckets: buckets,
		locker:  locker,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the backup loop
func (s *Scheduler) Start() {
	if !s.config.ScheduledBackups || s.config.BackupInterval <= 0 {
		logger.Info().Msg("Backup scheduler disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()

	logger.Info().
		Dur("interval", s.config.BackupInterval).
		Msg("Started backup scheduler")
}

// Stop stops the scheduler and waits for a running round to finish
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info().Msg("Stopped backup scheduler")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticks := utils.JitteredTicker(s.ctx, s.config.BackupInterval, 0.1)
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return
			}
			s.RunOnce(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// RunOnce starts one backup per bucket, skipping buckets that still have a
// backup running. It reports whether a round happened.
func (s *Scheduler) RunOnce(ctx context.Context) ([]types.Job, bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	defer s.running.Store(false)

	ttl := max(s.config.BackupInterval, time.Hour)
	unlock, err := s.locker.TryLock(ctx, schedulerLockKey, ttl)
	if errors.Is(err, lock.ErrLocked) {
		logger.Debug().Msg("Backup round already in progress elsewhere")
		return nil, false, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to acquire backup lock")
		return nil, false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to release backup lock")
		}
	}()

	var started []types.Job
	var errs []error
	for _, b := range s.buckets.All() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		running, err := s.engine.ListJobs(ctx, db.ListJobsParams{
			Kind:     types.JobKindBackup,
			BucketID: b.InternalID,
			Status:   types.JobStatusRunning,
			Limit:    1,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(running) > 0 {
			logger.Info().Str("bucket", b.String()).Str("job_id", running[0].ID).Msg("Backup still running, skipping bucket")
			continue
		}

		var j types.Job
		if s.engine.queue != nil {
			j, err = s.engine.EnqueueBackup(ctx, b.InternalID)
		} else {
			j, err = s.engine.Backup(ctx, b.InternalID)
		}
		if err != nil {
			logger.Error().Err(err).Str("bucket", b.String()).Msg("Scheduled backup failed")
			errs = append(errs, err)
		}
		if j.ID != "" {
			started = append(started, j)
		}
	}
	return started, true, errors.Join(errs...)
}
