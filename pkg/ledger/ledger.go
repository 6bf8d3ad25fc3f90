// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger maintains the per-bucket running byte total.
//
// The ledger is adjusted in the same metadata transaction as the file row it accounts
// for (see Apply), so a committed row change and its ledger change are never observed
// separately. Recompute gives the ground truth the ledger is checked against. The
// ledger is never corrected implicitly: Reset is an explicit admin operation.
package ledger

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
)

var (
	adjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobgate_ledger_adjustments_total",
			Help: "Ledger adjustments by direction",
		},
		[]string{"direction"},
	)

	negativeResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blobgate_ledger_negative_total",
			Help: "Ledger adjustments that left a bucket total below zero",
		},
	)

	resets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blobgate_ledger_resets_total",
			Help: "Explicit ledger corrections",
		},
	)
)

func init() {
	debug.Registry().MustRegister(adjustments, negativeResults, resets)
}

// Correction is the outcome of Reset.
type Correction struct {
	BucketID string
	Before   int64
	After    int64
}

// Changed reports whether Reset moved the ledger.
func (c Correction) Changed() bool {
	return c.Before != c.After
}

// Ledger reads and adjusts bucket totals.
type Ledger struct {
	db db.DB
}

func New(store db.DB) *Ledger {
	return &Ledger{db: store}
}

// Get returns the incremental total of bucketID. Buckets without a row are 0.
func (l *Ledger) Get(ctx context.Context, bucketID string) (int64, error) {
	return l.db.GetBucketSize(ctx, bucketID)
}

// Increase adds delta bytes in its own transaction.
func (l *Ledger) Increase(ctx context.Context, bucketID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, apierr.BadRequest("blob:ledger-negative-delta", "increase by %d", delta)
	}
	return l.adjust(ctx, bucketID, delta)
}

// Decrease subtracts delta bytes in its own transaction. The result is not clamped.
func (l *Ledger) Decrease(ctx context.Context, bucketID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, apierr.BadRequest("blob:ledger-negative-delta", "decrease by %d", delta)
	}
	return l.adjust(ctx, bucketID, -delta)
}

func (l *Ledger) adjust(ctx context.Context, bucketID string, delta int64) (int64, error) {
	var size int64
	err := l.db.WithTx(ctx, func(tx db.TxStore) error {
		var err error
		size, err = l.Apply(ctx, tx, bucketID, delta)
		return err
	})
	return size, err
}

// Apply adjusts bucketID by delta inside tx and returns the new total. The store
// locks the ledger row, so concurrent callers on one bucket serialize. A negative
// result is logged and counted but kept as is.
func (l *Ledger) Apply(ctx context.Context, tx db.TxStore, bucketID string, delta int64) (int64, error) {
	if delta == 0 {
		return tx.GetBucketSize(ctx, bucketID)
	}

	size, err := tx.AddBucketSize(ctx, bucketID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust ledger of %s: %w", bucketID, err)
	}

	if delta > 0 {
		adjustments.WithLabelValues("increase").Inc()
	} else {
		adjustments.WithLabelValues("decrease").Inc()
	}

	if size < 0 {
		negativeResults.Inc()
		logger.Ctx(ctx).Warn().
			Str("bucket_id", bucketID).
			Int64("delta", delta).
			Int64("size", size).
			Msg("bucket size ledger is negative")
	}
	return size, nil
}

// Recompute returns the ground-truth total: the sum of fileSize over the bucket's rows.
func (l *Ledger) Recompute(ctx context.Context, bucketID string) (int64, error) {
	return l.db.SumFileSizes(ctx, bucketID)
}

// Reset overwrites the ledger of bucketID with the recomputed total. The ledger row
// is locked while the sum is taken so no adjustment slips in between.
func (l *Ledger) Reset(ctx context.Context, bucketID string) (Correction, error) {
	c := Correction{BucketID: bucketID}
	err := l.db.WithTx(ctx, func(tx db.TxStore) error {
		before, err := tx.AddBucketSize(ctx, bucketID, 0)
		if err != nil {
			return fmt.Errorf("lock ledger row: %w", err)
		}
		after, err := tx.SumFileSizes(ctx, bucketID)
		if err != nil {
			return err
		}
		c.Before, c.After = before, after
		return tx.SetBucketSize(ctx, bucketID, after)
	})
	if err != nil {
		return Correction{}, err
	}

	resets.Inc()
	if c.Changed() {
		logger.Ctx(ctx).Info().
			Str("bucket_id", bucketID).
			Int64("before", c.Before).
			Int64("after", c.After).
			Msg("bucket size ledger corrected")
	}
	return c, nil
}
