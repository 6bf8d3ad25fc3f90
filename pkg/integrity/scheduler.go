package integrity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/blobgate/pkg/lock"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

const schedulerLockKey = "integrity"

// Scheduler runs every check over every bucket on an interval and hands the
// reports to a sink.
type Scheduler struct {
	checker *Checker
	sink    Sink
	locker  lock.Locker
	config  Config

	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(checker *Checker, sink Sink, locker lock.Locker, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		checker: checker,
		sink:    sink,
		locker:  locker,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the check loop
func (s *Scheduler) Start() {
	if !s.config.Enabled || s.config.Interval <= 0 {
		logger.Info().Msg("Integrity scheduler disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()

	logger.Info().
		Dur("interval", s.config.Interval).
		Str("output", s.config.Output).
		Msg("Started integrity scheduler")
}

// Stop stops the scheduler and waits for a running check to finish
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info().Msg("Stopped integrity scheduler")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticks := utils.JitteredTicker(s.ctx, s.config.Interval, 0.1)
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

// RunOnce runs all checks and delivers the reports unless a run is already in
// progress here or elsewhere. It reports whether a run happened.
func (s *Scheduler) RunOnce(ctx context.Context) ([]*Report, bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		scheduledSkipped.Inc()
		return nil, false, nil
	}
	defer s.running.Store(false)

	ttl := max(s.config.Interval, time.Hour)
	unlock, err := s.locker.TryLock(ctx, schedulerLockKey, ttl)
	if errors.Is(err, lock.ErrLocked) {
		scheduledSkipped.Inc()
		logger.Debug().Msg("Integrity run already in progress elsewhere")
		return nil, false, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to acquire integrity lock")
		return nil, false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to release integrity lock")
		}
	}()

	reports, runErr := s.checker.RunAll(ctx, "")
	if err := s.sink.Deliver(ctx, reports); err != nil {
		logger.Error().Err(err).Msg("Failed to deliver integrity reports")
		return reports, true, errors.Join(runErr, err)
	}
	return reports, true, runErr
}
