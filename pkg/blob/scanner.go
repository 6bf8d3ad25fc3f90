// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package blob

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

const cleanupLockKey = "cleanup"

// ScannerConfig configures the expiry sweep loop.
type ScannerConfig struct {
	// How often to sweep (default: 5m)
	Interval time.Duration `mapstructure:"interval"`

	// Fraction of Interval each tick may deviate by (default: 0.1)
	Jitter float64 `mapstructure:"jitter"`

	// Rows read per page (default: 1000)
	BatchSize int `mapstructure:"batch_size"`

	// How long one replica may hold the sweep lock (default: 10m)
	LockTTL time.Duration `mapstructure:"lock_ttl"`

	Enabled bool `mapstructure:"enabled"`
}

// DefaultScannerConfig returns the default sweep configuration
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:  5 * time.Minute,
		Jitter:    0.1,
		BatchSize: 1000,
		LockTTL:   10 * time.Minute,
		Enabled:   true,
	}
}

// Scanner runs CleanUp periodically. The run lock keeps replicas from sweeping
// at the same time.
type Scanner struct {
	svc    *Service
	locker lock.Locker
	config ScannerConfig

	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner creates a new expiry scanner
func NewScanner(svc *Service, locker lock.Locker, config ScannerConfig) *Scanner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		svc:    svc,
		locker: locker,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the sweep loop
func (s *Scanner) Start() {
	if !s.config.Enabled {
		logger.Info().Msg("Expiry scanner disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()

	logger.Info().
		Dur("interval", s.config.Interval).
		Float64("jitter", s.config.Jitter).
		Msg("Started expiry scanner")
}

// Stop stops the scanner and waits for a running sweep to finish
func (s *Scanner) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info().Msg("Stopped expiry scanner")
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	ticks := utils.JitteredTicker(s.ctx, s.config.Interval, s.config.Jitter)
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

// RunOnce performs one sweep unless one is already running here or on another
// replica. It reports whether a sweep ran.
func (s *Scanner) RunOnce(ctx context.Context) (RemoveResult, bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		sweepSkipped.Inc()
		return RemoveResult{}, false, nil
	}
	defer s.running.Store(false)

	ttl := s.config.LockTTL
	if ttl <= 0 {
		ttl = DefaultScannerConfig().LockTTL
	}

	unlock, err := s.locker.TryLock(ctx, cleanupLockKey, ttl)
	if errors.Is(err, lock.ErrLocked) {
		sweepSkipped.Inc()
		logger.Debug().Msg("Expiry sweep already running elsewhere")
		return RemoveResult{}, false, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to acquire expiry sweep lock")
		return RemoveResult{}, false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to release expiry sweep lock")
		}
	}()

	res, err := s.svc.CleanUp(ctx)
	return res, true, err
}
