// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// ============================================================================
// Bucket sizes
// ============================================================================

func (r reader) GetBucketSize(ctx context.Context, bucketID string) (int64, error) {
	var size int64
	err := r.q.QueryRow(ctx, `
		SELECT current_bucket_size FROM bucket_sizes WHERE identifier = $1
	`, bucketID).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get bucket size: %w", err)
	}
	return size, nil
}

// AddBucketSize creates the ledger row if needed, then applies delta with a single
// UPDATE. The UPDATE holds the row lock until the transaction ends, so concurrent
// adjustments of one bucket serialize.
func (t *TxStore) AddBucketSize(ctx context.Context, bucketID string, delta int64) (int64, error) {
	d := t.dialect
	_, err := t.Exec(ctx, `
		INSERT `+d.InsertIgnorePrefix()+`INTO bucket_sizes (identifier, current_bucket_size)
		VALUES ($1, 0)`+d.InsertIgnoreSuffix("identifier"), bucketID)
	if err != nil {
		return 0, fmt.Errorf("ensure bucket size row: %w", err)
	}

	_, err = t.Exec(ctx, `
		UPDATE bucket_sizes SET current_bucket_size = current_bucket_size + $1 WHERE identifier = $2
	`, delta, bucketID)
	if err != nil {
		return 0, fmt.Errorf("update bucket size: %w", err)
	}

	var size int64
	err = t.QueryRow(ctx, `
		SELECT current_bucket_size FROM bucket_sizes WHERE identifier = $1
	`, bucketID).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("read bucket size: %w", err)
	}
	return size, nil
}

func (t *TxStore) SetBucketSize(ctx context.Context, bucketID string, size int64) error {
	_, err := t.Exec(ctx, `
		INSERT INTO bucket_sizes (identifier, current_bucket_size)
		VALUES ($1, $2)`+t.dialect.UpsertSuffix("identifier", []string{"current_bucket_size"}),
		bucketID, size)
	if err != nil {
		return fmt.Errorf("set bucket size: %w", err)
	}
	return nil
}

// ============================================================================
// Bucket locks
// ============================================================================

func (r reader) GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error) {
	d := r.q.Dialect()
	get, post, patch, del := d.ScanBool(), d.ScanBool(), d.ScanBool(), d.ScanBool()

	var lock types.BucketLock
	err := r.q.QueryRow(ctx, `
		SELECT identifier, internal_bucket_id, get_lock, post_lock, patch_lock, delete_lock
		FROM bucket_locks WHERE internal_bucket_id = $1
	`, bucketID).Scan(&lock.ID, &lock.BucketID, get.Dest(), post.Dest(), patch.Dest(), del.Dest())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrBucketLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket lock: %w", err)
	}

	lock.GetLock = get.Value()
	lock.PostLock = post.Value()
	lock.PatchLock = patch.Value()
	lock.DeleteLock = del.Value()
	return &lock, nil
}

func (t *TxStore) PutBucketLock(ctx context.Context, lock *types.BucketLock) error {
	_, err := t.Exec(ctx, `
		INSERT INTO bucket_locks (identifier, internal_bucket_id, get_lock, post_lock, patch_lock, delete_lock)
		VALUES ($1, $2, $3, $4, $5, $6)`+
		t.dialect.UpsertSuffix("internal_bucket_id", []string{"get_lock", "post_lock", "patch_lock", "delete_lock"}),
		lock.ID, lock.BucketID,
		t.BoolValue(lock.GetLock), t.BoolValue(lock.PostLock), t.BoolValue(lock.PatchLock), t.BoolValue(lock.DeleteLock),
	)
	if err != nil {
		return fmt.Errorf("put bucket lock: %w", err)
	}
	return nil
}

func (t *TxStore) DeleteBucketLock(ctx context.Context, bucketID string) error {
	result, err := t.Exec(ctx, `DELETE FROM bucket_locks WHERE internal_bucket_id = $1`, bucketID)
	if err != nil {
		return fmt.Errorf("delete bucket lock: %w", err)
	}
	return expectRow(result, db.ErrBucketLockNotFound)
}
