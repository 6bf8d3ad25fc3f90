// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const fileColumns = `identifier, prefix, file_name, internal_bucket_id, date_created, date_modified,
	last_access, delete_at, file_size, mime_type, metadata, file_type, file_hash, metadata_hash, notify_email`

// ScanFile scans one file_data row selected with fileColumns.
func ScanFile(s scanner) (*types.FileData, error) {
	var f types.FileData
	var deleteAt sql.NullTime
	var metadata, fileType, fileHash, metadataHash, notifyEmail sql.NullString

	err := s.Scan(
		&f.ID,
		&f.Prefix,
		&f.FileName,
		&f.BucketID,
		&f.DateCreated,
		&f.DateModified,
		&f.LastAccess,
		&deleteAt,
		&f.FileSize,
		&f.MimeType,
		&metadata,
		&fileType,
		&fileHash,
		&metadataHash,
		&notifyEmail,
	)
	if err != nil {
		return nil, err
	}

	f.DateCreated = f.DateCreated.UTC()
	f.DateModified = f.DateModified.UTC()
	f.LastAccess = f.LastAccess.UTC()
	f.DeleteAt = timePtr(deleteAt)
	if metadata.Valid {
		f.Metadata = json.RawMessage(metadata.String)
	}
	f.Type = fileType.String
	f.FileHash = fileHash.String
	f.MetadataHash = metadataHash.String
	f.NotifyEmail = notifyEmail.String
	return &f, nil
}

func fileArgs(f *types.FileData) []any {
	var metadata sql.NullString
	if len(f.Metadata) > 0 {
		metadata = sql.NullString{String: string(f.Metadata), Valid: true}
	}
	return []any{
		f.ID,
		f.Prefix,
		f.FileName,
		f.BucketID,
		f.DateCreated.UTC(),
		f.DateModified.UTC(),
		f.LastAccess.UTC(),
		nullTime(f.DeleteAt),
		f.FileSize,
		f.MimeType,
		metadata,
		nullString(f.Type),
		nullString(f.FileHash),
		nullString(f.MetadataHash),
		nullString(f.NotifyEmail),
	}
}

func getFile(ctx context.Context, q Querier, id string, forUpdate bool) (*types.FileData, error) {
	query := `SELECT ` + fileColumns + ` FROM file_data WHERE identifier = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	f, err := ScanFile(q.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

func (r reader) GetFile(ctx context.Context, id string) (*types.FileData, error) {
	return getFile(ctx, r.q, id, false)
}

func (r reader) ListFiles(ctx context.Context, p db.ListFilesParams) ([]*types.FileData, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if p.BucketID != "" {
		add("internal_bucket_id = $%d", p.BucketID)
	}
	if p.PrefixStartsWith {
		if p.Prefix != "" {
			add("prefix LIKE $%d", escapeLike(p.Prefix)+"%")
		}
	} else if p.Prefix != "" {
		add("prefix = $%d", p.Prefix)
	}
	if p.ExpiredAt != nil {
		add("delete_at <= $%d", p.ExpiredAt.UTC())
	}
	if p.LiveAt != nil {
		add("(delete_at IS NULL OR delete_at > $%d)", p.LiveAt.UTC())
	}
	if p.AfterID != "" {
		add("identifier > $%d", p.AfterID)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = db.DefaultPageSize
	}

	query := `SELECT ` + fileColumns + ` FROM file_data`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY identifier LIMIT $%d`, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*types.FileData
	for rows.Next() {
		f, err := ScanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r reader) CountFiles(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM file_data WHERE internal_bucket_id = $1`, bucketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

func (r reader) SumFileSizes(ctx context.Context, bucketID string) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(file_size), 0) FROM file_data WHERE internal_bucket_id = $1
	`, bucketID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum file sizes: %w", err)
	}
	return sum, nil
}

// ============================================================================
// Transactional writes
// ============================================================================

func (t *TxStore) CreateFile(ctx context.Context, f *types.FileData) error {
	_, err := t.Exec(ctx, `
		INSERT INTO file_data (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, fileArgs(f)...)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.ID, err)
	}
	return nil
}

func (t *TxStore) UpdateFile(ctx context.Context, f *types.FileData) error {
	args := fileArgs(f)
	// identifier moves to the end for the WHERE clause
	args = append(args[1:], args[0])

	result, err := t.Exec(ctx, `
		UPDATE file_data SET
			prefix = $1, file_name = $2, internal_bucket_id = $3, date_created = $4,
			date_modified = $5, last_access = $6, delete_at = $7, file_size = $8,
			mime_type = $9, metadata = $10, file_type = $11, file_hash = $12,
			metadata_hash = $13, notify_email = $14
		WHERE identifier = $15
	`, args...)
	if err != nil {
		return fmt.Errorf("update file %s: %w", f.ID, err)
	}
	return expectRow(result, db.ErrFileNotFound)
}

func (t *TxStore) DeleteFile(ctx context.Context, id string) error {
	result, err := t.Exec(ctx, `DELETE FROM file_data WHERE identifier = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return expectRow(result, db.ErrFileNotFound)
}

func (t *TxStore) DeleteFilesByBucket(ctx context.Context, bucketID string) (int64, error) {
	result, err := t.Exec(ctx, `DELETE FROM file_data WHERE internal_bucket_id = $1`, bucketID)
	if err != nil {
		return 0, fmt.Errorf("delete bucket files: %w", err)
	}
	return result.RowsAffected()
}

func (t *TxStore) GetFileForUpdate(ctx context.Context, id string) (*types.FileData, error) {
	return getFile(ctx, t, id, true)
}

// expectRow maps zero affected rows to notFound. The MySQL store enables
// clientFoundRows so unchanged rows still count.
func expectRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
