// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// LockService manages the per-bucket method locks.
type LockService struct {
	db db.DB
}

func NewLockService(store db.DB) *LockService {
	return &LockService{db: store}
}

// Get returns the lock of bucketID, or NotFound when the bucket has none.
func (s *LockService) Get(ctx context.Context, bucketID string) (types.BucketLock, error) {
	lock, err := s.db.GetBucketLock(ctx, bucketID)
	if errors.Is(err, db.ErrBucketLockNotFound) {
		return types.BucketLock{}, apierr.NotFound("blob:bucket-lock-not-found", "bucket %s has no lock", bucketID)
	}
	if err != nil {
		return types.BucketLock{}, apierr.Internal("blob:bucket-lock-read-failed", err, "read bucket lock")
	}
	return *lock, nil
}

// Put creates or replaces the lock of lock.BucketID and returns the stored version.
// An existing lock keeps its identifier.
func (s *LockService) Put(ctx context.Context, lock types.BucketLock) (types.BucketLock, error) {
	err := s.db.WithTx(ctx, func(tx db.TxStore) error {
		existing, err := tx.GetBucketLock(ctx, lock.BucketID)
		switch {
		case err == nil:
			lock.ID = existing.ID
		case errors.Is(err, db.ErrBucketLockNotFound):
			if lock.ID == "" {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				lock.ID = id.String()
			}
		default:
			return err
		}
		return tx.PutBucketLock(ctx, &lock)
	})
	if err != nil {
		return types.BucketLock{}, apierr.Internal("blob:bucket-lock-write-failed", err, "write bucket lock")
	}

	logger.Ctx(ctx).Info().
		Str("bucket_id", lock.BucketID).
		Bool("get", lock.GetLock).
		Bool("post", lock.PostLock).
		Bool("patch", lock.PatchLock).
		Bool("delete", lock.DeleteLock).
		Msg("bucket lock updated")
	return lock, nil
}

// Delete removes the lock of bucketID.
func (s *LockService) Delete(ctx context.Context, bucketID string) error {
	err := s.db.WithTx(ctx, func(tx db.TxStore) error {
		return tx.DeleteBucketLock(ctx, bucketID)
	})
	if errors.Is(err, db.ErrBucketLockNotFound) {
		return apierr.NotFound("blob:bucket-lock-not-found", "bucket %s has no lock", bucketID)
	}
	if err != nil {
		return apierr.Internal("blob:bucket-lock-write-failed", err, "delete bucket lock")
	}
	return nil
}

// Check fails with Forbidden when method is currently locked for bucketID.
// Buckets without a lock accept every method.
func (s *LockService) Check(ctx context.Context, bucketID, method string) error {
	lock, err := s.db.GetBucketLock(ctx, bucketID)
	if errors.Is(err, db.ErrBucketLockNotFound) {
		return nil
	}
	if err != nil {
		return apierr.Internal("blob:bucket-lock-read-failed", err, "read bucket lock")
	}
	if lock.Locks(method) {
		return apierr.Forbidden("blob:bucket-locked-"+lockVerb(method), "bucket is locked for %s", method)
	}
	return nil
}

func lockVerb(method string) string {
	switch method {
	case http.MethodHead:
		return "get"
	case http.MethodPut:
		return "post"
	default:
		return strings.ToLower(method)
	}
}
