// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

func TestIncreaseDecrease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(memory.New())

	size, err := l.Increase(ctx, "b1", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), size)

	size, err = l.Decrease(ctx, "b1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), size)

	got, err := l.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)

	other, err := l.Get(ctx, "b2")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestIncrease_RejectsNegativeDelta(t *testing.T) {
	t.Parallel()
	l := New(memory.New())

	_, err := l.Increase(context.Background(), "b1", -1)
	assert.True(t, apierr.IsKind(err, apierr.KindBadRequest))
	_, err = l.Decrease(context.Background(), "b1", -1)
	assert.True(t, apierr.IsKind(err, apierr.KindBadRequest))
}

func TestDecrease_NegativeIsKept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(memory.New())

	before := testutil.ToFloat64(negativeResults)
	size, err := l.Decrease(ctx, "b1", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), size, "ledger is never clamped")
	assert.GreaterOrEqual(t, testutil.ToFloat64(negativeResults), before+1)
}

func TestConcurrentAdjustmentsDoNotLoseUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(memory.New())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = l.Increase(ctx, "b1", 10)
			} else {
				_, _ = l.Decrease(ctx, "b1", 4)
			}
		}()
	}
	wg.Wait()

	size, err := l.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(25*10-25*4), size)
}

func TestApply_RollsBackWithTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	l := New(store)

	err := store.WithTx(ctx, func(tx db.TxStore) error {
		if _, err := l.Apply(ctx, tx, "b1", 100); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	size, err := l.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRecomputeAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	l := New(store)

	require.NoError(t, store.WithTx(ctx, func(tx db.TxStore) error {
		for _, f := range []types.FileData{
			{ID: "f1", BucketID: "b1", FileSize: 100},
			{ID: "f2", BucketID: "b1", FileSize: 100},
			{ID: "f3", BucketID: "b2", FileSize: 999},
		} {
			if err := tx.CreateFile(ctx, &f); err != nil {
				return err
			}
		}
		// Drifted ledger.
		_, err := tx.AddBucketSize(ctx, "b1", 350)
		return err
	}))

	sum, err := l.Recompute(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), sum)

	// Recompute never touches the ledger.
	size, _ := l.Get(ctx, "b1")
	assert.Equal(t, int64(350), size)

	c, err := l.Reset(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, Correction{BucketID: "b1", Before: 350, After: 200}, c)
	assert.True(t, c.Changed())

	size, _ = l.Get(ctx, "b1")
	assert.Equal(t, int64(200), size)

	again, err := l.Reset(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, again.Changed())
}
