// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob is the file lifecycle engine: it stores file bytes in the bucket's
// backend and the FileData row in the metadata store, and keeps the bucket size
// ledger in step with every committed row change.
//
// Ordering rules:
//   - add writes the bytes first and commits the row and ledger increment together
//     afterwards; a failed commit removes the bytes again.
//   - remove commits the row deletion and ledger decrement together, then deletes the
//     bytes best-effort. A failed byte delete leaves an orphan for the integrity
//     checker, never a skewed ledger.
//
// Every FileData handed out is a copy.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/ledger"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
	"github.com/LeeDigitalWorks/blobgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// BucketResolver resolves bucket configurations by internal id.
type BucketResolver interface {
	ByInternalID(id string) (bucket.Config, bool)
}

// BackendResolver returns the storage backend of a bucket.
type BackendResolver interface {
	Get(bucketID string) (types.Backend, bool)
}

// Service implements the file lifecycle operations.
type Service struct {
	db        db.DB
	buckets   BucketResolver
	backends  BackendResolver
	ledger    *ledger.Ledger
	mailer    notify.Mailer
	now       func() time.Time
	batchSize int
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMailer sets where quota warnings are sent. The default only logs them.
func WithMailer(m notify.Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithBatchSize sets how many rows bulk removals read per page.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewService(store db.DB, buckets BucketResolver, backends BackendResolver, opts ...Option) *Service {
	s := &Service{
		db:        store,
		buckets:   buckets,
		backends:  backends,
		ledger:    ledger.New(store),
		mailer:    notify.LogMailer{},
		now:       time.Now,
		batchSize: db.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger returns the bucket size ledger the service maintains.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// clock returns the current time at the precision the SQL stores keep.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) resolve(bucketID string) (bucket.Config, types.Backend, error) {
	cfg, ok := s.buckets.ByInternalID(bucketID)
	if !ok {
		return bucket.Config{}, nil, apierr.NotFound("blob:bucket-not-found", "bucket %s not found", bucketID)
	}
	be, ok := s.backends.Get(bucketID)
	if !ok {
		return bucket.Config{}, nil, apierr.Internal("blob:backend-not-configured", nil, "bucket %s has no storage backend", cfg.BucketID)
	}
	return cfg, be, nil
}

func fileNotFound(id string) error {
	return apierr.NotFound("blob:file-data-not-found", "file %s not found", id)
}

func quotaReached(cfg bucket.Config) error {
	return apierr.InsufficientStorage("blob:bucket-quota-reached",
		"bucket %s reached its quota of %s", cfg.BucketID, humanize.Bytes(uint64(cfg.Quota)))
}

// translate maps store errors to structured errors.
func translate(err error, id, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrFileNotFound) {
		return fileNotFound(id)
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Internal("blob:metadata-write-failed", err, "%s", action)
}

// checkQuota fails when adding delta bytes to the current ledger would exceed the
// quota. The authoritative check runs again inside the write transaction.
func (s *Service) checkQuota(ctx context.Context, cfg bucket.Config, delta int64) error {
	if cfg.Quota <= 0 || delta <= 0 {
		return nil
	}
	current, err := s.ledger.Get(ctx, cfg.InternalID)
	if err != nil {
		return apierr.Internal("blob:metadata-read-failed", err, "read bucket size")
	}
	if cfg.QuotaExceeded(current + delta) {
		return quotaReached(cfg)
	}
	return nil
}

// warnQuota mails the bucket's quota recipients when usage crossed the configured
// threshold. Delivery failures are logged only.
func (s *Service) warnQuota(ctx context.Context, cfg bucket.Config, before, after int64) {
	if !cfg.QuotaWarningCrossed(before, after) {
		return
	}
	quotaWarnings.Inc()

	log := logger.Ctx(ctx)
	log.Warn().
		Str("bucket_id", cfg.BucketID).
		Int64("size", after).
		Int64("quota", cfg.Quota).
		Msg("bucket crossed its quota warning threshold")

	if !cfg.Notifications.Quota.Enabled() {
		return
	}
	subject := cfg.Notifications.Quota.Subject
	if subject == "" {
		subject = fmt.Sprintf("blobgate: bucket %s is above %d%% of its quota", cfg.BucketID, cfg.NotifyWhenQuotaOver)
	}
	body := fmt.Sprintf("Bucket %s now stores %s of its %s quota (%.1f%%).\n",
		cfg, humanize.Bytes(uint64(max(after, 0))), humanize.Bytes(uint64(cfg.Quota)), cfg.UsagePercent(after))

	if err := s.mailer.Send(ctx, notify.Message{To: cfg.Notifications.Quota.Recipients, Subject: subject, Body: body}); err != nil {
		log.Error().Err(err).Str("bucket_id", cfg.BucketID).Msg("failed to send quota warning")
	}
}

// readContent loads the stored bytes of f.
func readContent(ctx context.Context, be types.Backend, f types.FileData) ([]byte, error) {
	rc, err := be.GetBinaryContent(ctx, f.BucketID, f.ID)
	if errors.Is(err, backend.ErrFileNotFound) {
		return nil, apierr.Storage("blob:file-content-missing", err, "content of file %s is missing", f.ID)
	}
	if err != nil {
		return nil, apierr.Storage("blob:storage-read-failed", err, "read content of file %s", f.ID)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apierr.Storage("blob:storage-read-failed", err, "read content of file %s", f.ID)
	}
	return data, nil
}

// discard deletes stored bytes best-effort.
func (s *Service) discard(ctx context.Context, bucketID, fileID string) {
	log := logger.Ctx(ctx)
	be, ok := s.backends.Get(bucketID)
	if !ok {
		orphanedBlobs.Inc()
		log.Warn().Str("bucket_id", bucketID).Str("file_id", fileID).Msg("no backend to delete file content from")
		return
	}
	if err := be.RemoveFile(ctx, bucketID, fileID); err != nil {
		orphanedBlobs.Inc()
		log.Warn().Err(err).
			Str("bucket_id", bucketID).
			Str("file_id", fileID).
			Msg("failed to delete file content, left as orphan")
	}
}
