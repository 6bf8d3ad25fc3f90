// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// RemoveFailure is one file a bulk removal could not remove.
type RemoveFailure struct {
	FileID string
	Err    error
}

// RemoveResult reports a bulk removal. A failure on one file never stops the batch.
type RemoveResult struct {
	Removed  []types.FileData
	Failures []RemoveFailure
}

// Bytes is the total size of the removed files.
func (r RemoveResult) Bytes() int64 {
	var n int64
	for _, f := range r.Removed {
		n += f.FileSize
	}
	return n
}

// Err joins the per-file failures, or returns nil when every file was removed.
func (r RemoveResult) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("file %s: %w", f.FileID, f.Err))
	}
	return errors.Join(errs...)
}

// RemoveFilesByPrefix removes the files of bucketID whose prefix equals prefix, or
// starts with it when startsWith is set.
func (s *Service) RemoveFilesByPrefix(ctx context.Context, bucketID, prefix string, startsWith bool) (RemoveResult, error) {
	if _, ok := s.buckets.ByInternalID(bucketID); !ok {
		return RemoveResult{}, apierr.NotFound("blob:bucket-not-found", "bucket %s not found", bucketID)
	}
	if prefix == "" {
		return RemoveResult{}, apierr.BadRequest("blob:prefix-required", "prefix is required")
	}
	return s.removeMatching(ctx, "remove_by_prefix", db.ListFilesParams{
		BucketID:         bucketID,
		Prefix:           prefix,
		PrefixStartsWith: startsWith,
	}, nil)
}

// RemoveFiles removes the files of bucketID for which match returns true.
func (s *Service) RemoveFiles(ctx context.Context, bucketID string, match func(types.FileData) bool) (RemoveResult, error) {
	if _, ok := s.buckets.ByInternalID(bucketID); !ok {
		return RemoveResult{}, apierr.NotFound("blob:bucket-not-found", "bucket %s not found", bucketID)
	}
	if match == nil {
		return RemoveResult{}, apierr.BadRequest("blob:predicate-required", "a predicate is required")
	}
	return s.removeMatching(ctx, "remove_by_filter", db.ListFilesParams{BucketID: bucketID}, match)
}

// CleanUp removes every file whose deleteAt has passed. Running it again right away
// removes nothing.
func (s *Service) CleanUp(ctx context.Context) (RemoveResult, error) {
	start := time.Now()
	sweepsTotal.Inc()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock()
	res, err := s.removeMatching(ctx, "cleanup", db.ListFilesParams{ExpiredAt: &now}, nil)

	filesExpired.Add(float64(len(res.Removed)))
	bytesExpired.Add(float64(res.Bytes()))

	ev := logger.Ctx(ctx).Info()
	if err != nil || len(res.Failures) > 0 {
		ev = logger.Ctx(ctx).Warn().Err(err)
	}
	ev.Int("removed", len(res.Removed)).
		Int64("bytes", res.Bytes()).
		Int("failed", len(res.Failures)).
		Dur("duration", time.Since(start)).
		Msg("expiry sweep finished")

	return res, err
}

// removeMatching removes every row matching params (and match, when set) through
// RemoveFile. Rows that vanish concurrently are skipped.
func (s *Service) removeMatching(ctx context.Context, op string, params db.ListFilesParams, match func(types.FileData) bool) (RemoveResult, error) {
	params.Limit = s.batchSize
	log := logger.Ctx(ctx)

	var res RemoveResult
	for row, err := range db.IterFiles(ctx, s.db, params) {
		if err != nil {
			return res, apierr.Internal("blob:metadata-read-failed", err, "list files for %s", op)
		}
		if match != nil && !match(row.Clone()) {
			continue
		}

		removed, err := s.RemoveFile(ctx, row.ID)
		switch {
		case err == nil:
			res.Removed = append(res.Removed, removed)
		case apierr.IsKind(err, apierr.KindNotFound):
		default:
			res.Failures = append(res.Failures, RemoveFailure{FileID: row.ID, Err: err})
			log.Warn().Err(err).Str("op", op).Str("file_id", row.ID).Msg("failed to remove file")
		}
	}
	return res, nil
}

// ListOptions pages through a bucket's files.
type ListOptions struct {
	BucketID         string
	Prefix           string
	PrefixStartsWith bool
	AfterID          string
	// Limit defaults to DefaultListLimit and is capped at MaxListLimit.
	Limit          int
	IncludeExpired bool
}

// ListFiles returns one page of files ordered by id. Pass the last id as AfterID to
// continue.
func (s *Service) ListFiles(ctx context.Context, opts ListOptions) ([]types.FileData, error) {
	if _, ok := s.buckets.ByInternalID(opts.BucketID); !ok {
		return nil, apierr.NotFound("blob:bucket-not-found", "bucket %s not found", opts.BucketID)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	params := db.ListFilesParams{
		BucketID:         opts.BucketID,
		Prefix:           opts.Prefix,
		PrefixStartsWith: opts.PrefixStartsWith,
		AfterID:          opts.AfterID,
		Limit:            limit,
	}
	if !opts.IncludeExpired {
		now := s.clock()
		params.LiveAt = &now
	}

	rows, err := s.db.ListFiles(ctx, params)
	if err != nil {
		return nil, apierr.Internal("blob:metadata-read-failed", err, "list files")
	}
	out := make([]types.FileData, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}
