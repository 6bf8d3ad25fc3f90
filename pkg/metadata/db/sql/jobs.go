// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const jobColumns = `identifier, status, bucket_id, started, finished, error_id, error_message,
	hash, file_ref, backup_job_id, file_count, total_bytes`

func jobTable(kind types.JobKind) (string, error) {
	switch kind {
	case types.JobKindBackup:
		return "metadata_backup_jobs", nil
	case types.JobKindRestore:
		return "metadata_restore_jobs", nil
	default:
		return "", fmt.Errorf("unknown job kind %q", kind)
	}
}

func scanJob(s scanner, kind types.JobKind) (*types.Job, error) {
	j := types.Job{Kind: kind}
	var status string
	var finished sql.NullTime
	var errorID, errorMessage, hash, fileRef, backupJobID sql.NullString

	err := s.Scan(
		&j.ID,
		&status,
		&j.BucketID,
		&j.Started,
		&finished,
		&errorID,
		&errorMessage,
		&hash,
		&fileRef,
		&backupJobID,
		&j.FileCount,
		&j.TotalBytes,
	)
	if err != nil {
		return nil, err
	}

	j.Status = types.JobStatus(status)
	j.Started = j.Started.UTC()
	j.Finished = timePtr(finished)
	j.ErrorID = errorID.String
	j.ErrorMessage = errorMessage.String
	j.Hash = hash.String
	j.FileRef = fileRef.String
	j.BackupJobID = backupJobID.String
	return &j, nil
}

func getJob(ctx context.Context, q Querier, kind types.JobKind, id string, forUpdate bool) (*types.Job, error) {
	table, err := jobTable(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM ` + table + ` WHERE identifier = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	j, err := scanJob(q.QueryRow(ctx, query, id), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s job %s: %w", kind, id, err)
	}
	return j, nil
}

func (r reader) GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	return getJob(ctx, r.q, kind, id, false)
}

func (r reader) ListJobs(ctx context.Context, p db.ListJobsParams) ([]*types.Job, error) {
	kinds := []types.JobKind{types.JobKindBackup, types.JobKindRestore}
	if p.Kind != "" {
		kinds = []types.JobKind{p.Kind}
	}

	var jobs []*types.Job
	for _, kind := range kinds {
		page, err := r.listJobs(ctx, kind, p)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, page...)
	}

	if len(kinds) > 1 {
		sortJobsNewestFirst(jobs)
		if p.Limit > 0 && len(jobs) > p.Limit {
			jobs = jobs[:p.Limit]
		}
	}
	return jobs, nil
}

func (r reader) listJobs(ctx context.Context, kind types.JobKind, p db.ListJobsParams) ([]*types.Job, error) {
	table, err := jobTable(kind)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if p.BucketID != "" {
		args = append(args, p.BucketID)
		where = append(where, fmt.Sprintf("bucket_id = $%d", len(args)))
	}
	if p.Status != "" {
		args = append(args, string(p.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM ` + table
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started DESC, identifier DESC`
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", kind, err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func sortJobsNewestFirst(jobs []*types.Job) {
	slices.SortFunc(jobs, func(a, b *types.Job) int {
		if c := b.Started.Compare(a.Started); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

// ============================================================================
// Transactional writes
// ============================================================================

func (t *TxStore) CreateJob(ctx context.Context, j *types.Job) error {
	table, err := jobTable(j.Kind)
	if err != nil {
		return err
	}

	_, err = t.Exec(ctx, `
		INSERT INTO `+table+` (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		j.ID, string(j.Status), j.BucketID, j.Started.UTC(), nullTime(j.Finished),
		nullString(j.ErrorID), nullString(j.ErrorMessage), nullString(j.Hash),
		nullString(j.FileRef), nullString(j.BackupJobID), j.FileCount, j.TotalBytes,
	)
	if err != nil {
		return fmt.Errorf("create %s job: %w", j.Kind, err)
	}
	return nil
}

func (t *TxStore) GetJobForUpdate(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	return getJob(ctx, t, kind, id, true)
}

func (t *TxStore) UpdateJob(ctx context.Context, j *types.Job) error {
	table, err := jobTable(j.Kind)
	if err != nil {
		return err
	}

	result, err := t.Exec(ctx, `
		UPDATE `+table+` SET
			status = $1, finished = $2, error_id = $3, error_message = $4, hash = $5,
			file_ref = $6, backup_job_id = $7, file_count = $8, total_bytes = $9
		WHERE identifier = $10
	`,
		string(j.Status), nullTime(j.Finished), nullString(j.ErrorID), nullString(j.ErrorMessage),
		nullString(j.Hash), nullString(j.FileRef), nullString(j.BackupJobID),
		j.FileCount, j.TotalBytes, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update %s job %s: %w", j.Kind, j.ID, err)
	}
	return expectRow(result, db.ErrJobNotFound)
}

func (t *TxStore) DeleteJob(ctx context.Context, kind types.JobKind, id string) error {
	table, err := jobTable(kind)
	if err != nil {
		return err
	}

	result, err := t.Exec(ctx, `DELETE FROM `+table+` WHERE identifier = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s job %s: %w", kind, id, err)
	}
	return expectRow(result, db.ErrJobNotFound)
}
