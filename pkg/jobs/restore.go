// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// StartRestore records a RUNNING restore job for a finished backup.
func (e *Engine) StartRestore(ctx context.Context, backupJobID string) (types.Job, error) {
	backup, err := e.finishedBackup(ctx, backupJobID)
	if err != nil {
		return types.Job{}, err
	}
	return e.create(ctx, types.Job{
		Kind:        types.JobKindRestore,
		BucketID:    backup.BucketID,
		BackupJobID: backup.ID,
	})
}

// Restore starts a restore job and runs it to completion.
func (e *Engine) Restore(ctx context.Context, backupJobID string) (types.Job, error) {
	j, err := e.StartRestore(ctx, backupJobID)
	if err != nil {
		return types.Job{}, err
	}
	return e.RunRestore(ctx, j.ID)
}

// RunRestore replaces the bucket's metadata rows with the backup's snapshot and
// sets the bucket size ledger to the restored total. The artifact is verified
// against the backup's hash first. Wiping, inserting and finishing the job happen
// in one transaction, so a restore either fully applies or leaves the bucket as
// it was.
func (e *Engine) RunRestore(ctx context.Context, jobID string) (types.Job, error) {
	j, ok, err := e.startCheckpoint(ctx, types.JobKindRestore, jobID)
	if err != nil || !ok {
		return j, err
	}

	log := logger.Ctx(ctx).With().
		Str("job_id", j.ID).
		Str("backup_job_id", j.BackupJobID).
		Str("bucket_id", j.BucketID).
		Logger()
	log.Info().Msg("restore started")

	snap, hash, runErr := e.loadSnapshot(ctx, j)

	out, cancelled, err := e.finish(ctx, j, runErr, func(tx db.TxStore, row *types.Job) error {
		// Ledger row first, the same order file writers lock in.
		if _, err := tx.AddBucketSize(ctx, j.BucketID, 0); err != nil {
			return err
		}
		if _, err := tx.DeleteFilesByBucket(ctx, j.BucketID); err != nil {
			return err
		}
		for i := range snap.Files {
			f := snap.Files[i].Clone()
			if err := tx.CreateFile(ctx, &f); err != nil {
				return err
			}
		}
		total := snap.TotalBytes()
		if err := tx.SetBucketSize(ctx, j.BucketID, total); err != nil {
			return err
		}
		row.Hash = hash
		row.FileCount = int64(len(snap.Files))
		row.TotalBytes = total
		return nil
	})
	if err != nil {
		return out, err
	}
	if cancelled {
		log.Info().Msg("restore cancelled while running, bucket left unchanged")
	}
	return out, nil
}

// loadSnapshot reads and verifies the artifact of the restore's backup.
func (e *Engine) loadSnapshot(ctx context.Context, j types.Job) (*Snapshot, string, error) {
	backup, err := e.finishedBackup(ctx, j.BackupJobID)
	if err != nil {
		return nil, "", err
	}
	bucketID, name, err := splitFileRef(backup.FileRef)
	if err != nil {
		return nil, "", apierr.Internal("blob:backup-corrupt", err, "backup %s", backup.ID)
	}

	data, err := readAll(ctx, e.snapshots, bucketID, name)
	if err != nil {
		return nil, "", apierr.Storage("blob:backup-read-failed", err, "read backup artifact %s", backup.FileRef)
	}
	hash := hashBytes(data)
	if hash != backup.Hash {
		return nil, "", apierr.Conflict("blob:backup-hash-mismatch",
			"backup %s artifact hash %s does not match recorded %s", backup.ID, hash, backup.Hash)
	}

	snap, err := decodeSnapshot(name, data)
	if err != nil {
		return nil, "", apierr.Internal("blob:backup-corrupt", err, "backup %s", backup.ID)
	}
	if snap.BucketID != j.BucketID {
		return nil, "", apierr.Conflict("blob:backup-bucket-mismatch",
			"backup %s belongs to bucket %s, not %s", backup.ID, snap.BucketID, j.BucketID)
	}
	for _, f := range snap.Files {
		if f.BucketID != j.BucketID {
			return nil, "", apierr.Internal("blob:backup-corrupt", nil,
				"backup %s holds file %s of bucket %s", backup.ID, f.ID, f.BucketID)
		}
	}
	return snap, hash, nil
}

func (e *Engine) finishedBackup(ctx context.Context, id string) (types.Job, error) {
	backup, err := e.db.GetJob(ctx, types.JobKindBackup, id)
	if errors.Is(err, db.ErrJobNotFound) {
		return types.Job{}, apierr.NotFound("blob:backup-job-not-found", "backup job %s not found", id)
	}
	if err != nil {
		return types.Job{}, apierr.Internal("blob:metadata-read-failed", err, "read backup job %s", id)
	}
	if backup.Status != types.JobStatusFinished || backup.FileRef == "" {
		return types.Job{}, apierr.Conflict("blob:backup-not-finished",
			"backup job %s is %s, only finished backups can be restored", id, backup.Status)
	}
	return backup.Clone(), nil
}
