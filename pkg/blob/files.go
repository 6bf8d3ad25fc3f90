// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// NewFile is the input of AddFile.
type NewFile struct {
	// BucketID is the internal bucket id.
	BucketID    string
	Prefix      string
	FileName    string
	MimeType    string
	Content     []byte
	Metadata    json.RawMessage
	Type        string
	NotifyEmail string

	// Retention sets deleteAt to now+Retention. Zero keeps the file until removed.
	Retention time.Duration
}

// GetOptions controls GetFile.
type GetOptions struct {
	IncludeContent   bool
	UpdateLastAccess bool

	// ValidateOutput re-hashes the stored content and metadata and fails when they
	// no longer match the recorded hashes. Files stored without hashes pass.
	ValidateOutput bool

	// BucketID, when set, makes files of other buckets look absent.
	BucketID string

	IncludeExpired bool
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	// BucketID, when set, makes files of other buckets look absent.
	BucketID string

	Prefix      *string
	FileName    *string
	MimeType    *string
	Type        *string
	NotifyEmail *string
	Metadata    json.RawMessage
	Content     []byte

	// Retention moves deleteAt to now+Retention; zero clears it.
	Retention *time.Duration
}

// AddFile stores a new file and returns its metadata.
func (s *Service) AddFile(ctx context.Context, nf NewFile) (f types.FileData, err error) {
	defer func() { observe("add", err) }()

	cfg, be, err := s.resolve(nf.BucketID)
	if err != nil {
		return types.FileData{}, err
	}
	if err := cfg.ValidateMetadata(nf.Type, nf.Metadata); err != nil {
		return types.FileData{}, err
	}
	if nf.Retention < 0 {
		return types.FileData{}, apierr.BadRequest("blob:bad-retention", "retention %s is negative", nf.Retention)
	}

	size := int64(len(nf.Content))
	if err := s.checkQuota(ctx, cfg, size); err != nil {
		return types.FileData{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return types.FileData{}, apierr.Internal("blob:id-generation-failed", err, "generate file id")
	}

	now := s.clock()
	f = types.FileData{
		ID:           id.String(),
		Prefix:       nf.Prefix,
		FileName:     nf.FileName,
		BucketID:     cfg.InternalID,
		DateCreated:  now,
		DateModified: now,
		LastAccess:   now,
		FileSize:     size,
		MimeType:     nf.MimeType,
		Metadata:     bytes.Clone(nf.Metadata),
		Type:         nf.Type,
		NotifyEmail:  nf.NotifyEmail,
	}
	if nf.Retention > 0 {
		deleteAt := now.Add(nf.Retention)
		f.DeleteAt = &deleteAt
	}
	if cfg.IntegrityChecks {
		f.FileHash = ContentHash(nf.Content)
		f.MetadataHash = MetadataHash(nf.Metadata)
	}

	if err := be.SaveFile(ctx, cfg.InternalID, f.ID, nf.Content); err != nil {
		return types.FileData{}, apierr.Storage("blob:storage-write-failed", err, "store content of file %s", f.ID)
	}
	bytesWritten.Add(float64(size))

	var after int64
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		if err := tx.CreateFile(ctx, &f); err != nil {
			return err
		}
		var err error
		after, err = s.ledger.Apply(ctx, tx, cfg.InternalID, size)
		if err != nil {
			return err
		}
		if cfg.QuotaExceeded(after) {
			return quotaReached(cfg)
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, cfg.InternalID, f.ID)
		return types.FileData{}, translate(err, f.ID, "store file metadata")
	}

	logger.Ctx(ctx).Debug().
		Str("bucket_id", cfg.BucketID).
		Str("file_id", f.ID).
		Int64("size", size).
		Msg("file added")

	s.warnQuota(ctx, cfg, after-size, after)
	return f, nil
}

// GetFile returns the file with id. Expired files are absent unless
// opts.IncludeExpired is set.
func (s *Service) GetFile(ctx context.Context, id string, opts GetOptions) (f types.FileData, err error) {
	defer func() { observe("get", err) }()

	row, err := s.db.GetFile(ctx, id)
	if errors.Is(err, db.ErrFileNotFound) {
		return types.FileData{}, fileNotFound(id)
	}
	if err != nil {
		return types.FileData{}, apierr.Internal("blob:metadata-read-failed", err, "read file %s", id)
	}
	f = row.Clone()

	now := s.clock()
	if opts.BucketID != "" && f.BucketID != opts.BucketID {
		return types.FileData{}, fileNotFound(id)
	}
	if !opts.IncludeExpired && f.ExpiredAt(now) {
		return types.FileData{}, fileNotFound(id)
	}

	if opts.IncludeContent || opts.ValidateOutput {
		_, be, err := s.resolve(f.BucketID)
		if err != nil {
			return types.FileData{}, err
		}
		content, err := readContent(ctx, be, f)
		if err != nil {
			return types.FileData{}, err
		}
		if opts.ValidateOutput {
			if err := validateOutput(f, content); err != nil {
				return types.FileData{}, err
			}
		}
		if opts.IncludeContent {
			f.Content = content
		}
	}

	if opts.UpdateLastAccess {
		err := s.db.WithTx(ctx, func(tx db.TxStore) error {
			cur, err := tx.GetFileForUpdate(ctx, id)
			if err != nil {
				return err
			}
			cur.LastAccess = now
			return tx.UpdateFile(ctx, cur)
		})
		if err != nil {
			return types.FileData{}, translate(err, id, "update last access")
		}
		f.LastAccess = now
	}
	return f, nil
}

func validateOutput(f types.FileData, content []byte) error {
	if f.FileHash != "" && ContentHash(content) != f.FileHash {
		return apierr.Internal("blob:output-validation-failed", nil, "content of file %s does not match its hash", f.ID)
	}
	if f.MetadataHash != "" && MetadataHash(f.Metadata) != f.MetadataHash {
		return apierr.Internal("blob:output-validation-failed", nil, "metadata of file %s does not match its hash", f.ID)
	}
	return nil
}

// UpdateFile applies p to the file with id. A size change moves the ledger by the
// difference only.
func (s *Service) UpdateFile(ctx context.Context, id string, p Patch) (f types.FileData, err error) {
	defer func() { observe("update", err) }()

	current, err := s.db.GetFile(ctx, id)
	if errors.Is(err, db.ErrFileNotFound) {
		return types.FileData{}, fileNotFound(id)
	}
	if err != nil {
		return types.FileData{}, apierr.Internal("blob:metadata-read-failed", err, "read file %s", id)
	}
	if p.BucketID != "" && current.BucketID != p.BucketID {
		return types.FileData{}, fileNotFound(id)
	}
	if current.ExpiredAt(s.clock()) {
		return types.FileData{}, fileNotFound(id)
	}

	cfg, be, err := s.resolve(current.BucketID)
	if err != nil {
		return types.FileData{}, err
	}

	if p.Type != nil || p.Metadata != nil {
		typ, meta := current.Type, current.Metadata
		if p.Type != nil {
			typ = *p.Type
		}
		if p.Metadata != nil {
			meta = p.Metadata
		}
		if err := cfg.ValidateMetadata(typ, meta); err != nil {
			return types.FileData{}, err
		}
	}
	if p.Retention != nil && *p.Retention < 0 {
		return types.FileData{}, apierr.BadRequest("blob:bad-retention", "retention %s is negative", *p.Retention)
	}

	if p.Content != nil {
		if err := s.checkQuota(ctx, cfg, int64(len(p.Content))-current.FileSize); err != nil {
			return types.FileData{}, err
		}
	}

	// Content is written while the row lock is held, so concurrent updates of one file
	// reach the backend in the same order their rows commit.
	now := s.clock()
	var before, after int64
	var previous []byte
	wrote := false
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		row, err := tx.GetFileForUpdate(ctx, id)
		if err != nil {
			return err
		}
		oldSize := row.FileSize
		locked := row.Clone()

		applyPatch(row, p, now, cfg.IntegrityChecks)

		if delta := row.FileSize - oldSize; delta != 0 {
			after, err = s.ledger.Apply(ctx, tx, cfg.InternalID, delta)
			if err != nil {
				return err
			}
			before = after - delta
			if delta > 0 && cfg.QuotaExceeded(after) {
				return quotaReached(cfg)
			}
		}

		if p.Content != nil {
			previous, err = readContent(ctx, be, locked)
			if err != nil && !apierr.IsKind(err, apierr.KindStorage) {
				return err
			}
			if err := be.SaveFile(ctx, cfg.InternalID, id, p.Content); err != nil {
				return apierr.Storage("blob:storage-write-failed", err, "store content of file %s", id)
			}
			wrote = true
			bytesWritten.Add(float64(len(p.Content)))
		}

		if err := tx.UpdateFile(ctx, row); err != nil {
			return err
		}
		f = row.Clone()
		return nil
	})
	if err != nil {
		if wrote && previous != nil {
			if rerr := be.SaveFile(context.WithoutCancel(ctx), cfg.InternalID, id, previous); rerr != nil {
				logger.Ctx(ctx).Error().Err(rerr).Str("file_id", id).Msg("failed to restore previous file content")
			}
		}
		return types.FileData{}, translate(err, id, "update file metadata")
	}

	if after > before {
		s.warnQuota(ctx, cfg, before, after)
	}
	return f, nil
}

func applyPatch(row *types.FileData, p Patch, now time.Time, hashed bool) {
	if p.Prefix != nil {
		row.Prefix = *p.Prefix
	}
	if p.FileName != nil {
		row.FileName = *p.FileName
	}
	if p.MimeType != nil {
		row.MimeType = *p.MimeType
	}
	if p.Type != nil {
		row.Type = *p.Type
	}
	if p.NotifyEmail != nil {
		row.NotifyEmail = *p.NotifyEmail
	}
	if p.Metadata != nil {
		row.Metadata = bytes.Clone(p.Metadata)
		row.MetadataHash = ""
		if hashed {
			row.MetadataHash = MetadataHash(p.Metadata)
		}
	}
	if p.Content != nil {
		row.FileSize = int64(len(p.Content))
		row.FileHash = ""
		if hashed {
			row.FileHash = ContentHash(p.Content)
		}
	}
	if p.Retention != nil {
		row.DeleteAt = nil
		if *p.Retention > 0 {
			deleteAt := now.Add(*p.Retention)
			row.DeleteAt = &deleteAt
		}
	}
	row.DateModified = now
}

// RemoveFile deletes the row and decrements the ledger in one transaction, then
// deletes the bytes best-effort. It returns the removed file.
func (s *Service) RemoveFile(ctx context.Context, id string) (f types.FileData, err error) {
	defer func() { observe("remove", err) }()

	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		row, err := tx.GetFileForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteFile(ctx, id); err != nil {
			return err
		}
		if _, err := s.ledger.Apply(ctx, tx, row.BucketID, -row.FileSize); err != nil {
			return err
		}
		f = row.Clone()
		return nil
	})
	if err != nil {
		return types.FileData{}, translate(err, id, "remove file")
	}

	s.discard(ctx, f.BucketID, f.ID)
	return f, nil
}
