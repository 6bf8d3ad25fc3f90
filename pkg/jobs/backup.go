// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// StartBackup records a RUNNING backup job for a bucket without running it.
func (e *Engine) StartBackup(ctx context.Context, bucketID string) (types.Job, error) {
	if _, ok := e.buckets.ByInternalID(bucketID); !ok {
		return types.Job{}, apierr.NotFound("blob:bucket-not-found", "bucket %s is not configured", bucketID)
	}
	return e.create(ctx, types.Job{Kind: types.JobKindBackup, BucketID: bucketID})
}

// Backup starts a backup job and runs it to completion.
func (e *Engine) Backup(ctx context.Context, bucketID string) (types.Job, error) {
	j, err := e.StartBackup(ctx, bucketID)
	if err != nil {
		return types.Job{}, err
	}
	return e.RunBackup(ctx, j.ID)
}

// RunBackup snapshots the job's bucket into the snapshot backend. On success the
// job becomes FINISHED and every older finished backup of the bucket is pruned
// together with its artifact. A failure is recorded on the job as ERROR and
// returned.
func (e *Engine) RunBackup(ctx context.Context, jobID string) (types.Job, error) {
	j, ok, err := e.startCheckpoint(ctx, types.JobKindBackup, jobID)
	if err != nil || !ok {
		return j, err
	}

	log := logger.Ctx(ctx).With().Str("job_id", j.ID).Str("bucket_id", j.BucketID).Logger()
	log.Info().Msg("backup started")

	name := artifactName(j.ID, e.algo)
	snap, data, hash, runErr := e.writeSnapshot(ctx, j, name)

	var pruned []types.Job
	out, cancelled, err := e.finish(ctx, j, runErr, func(tx db.TxStore, row *types.Job) error {
		row.Hash = hash
		row.FileRef = fileRef(j.BucketID, name)
		row.FileCount = int64(len(snap.Files))
		row.TotalBytes = snap.TotalBytes()

		var err error
		pruned, err = prune(ctx, tx, row)
		return err
	})

	// Artifacts of jobs that did not finish are never referenced again.
	if runErr == nil && (err != nil || out.Status != types.JobStatusFinished) {
		e.removeArtifact(ctx, j.BucketID, name)
	}
	if err != nil {
		return out, err
	}
	if cancelled {
		log.Info().Msg("backup cancelled while running, artifact discarded")
		return out, nil
	}

	for _, old := range pruned {
		if bucketID, oldName, err := splitFileRef(old.FileRef); err == nil {
			e.removeArtifact(ctx, bucketID, oldName)
		}
		backupsPruned.Inc()
		log.Debug().Str("pruned_job_id", old.ID).Msg("pruned previous backup")
	}
	artifactBytes.Observe(float64(len(data)))
	return out, nil
}

func (e *Engine) writeSnapshot(ctx context.Context, j types.Job, name string) (*Snapshot, []byte, string, error) {
	snap, err := takeSnapshot(ctx, e.db, j.BucketID, j.ID, j.Started)
	if err != nil {
		return nil, nil, "", apierr.Internal("blob:metadata-read-failed", err, "read files of bucket %s", j.BucketID)
	}
	data, hash, err := encodeSnapshot(snap, e.algo)
	if err != nil {
		return nil, nil, "", apierr.Internal("blob:backup-encode-failed", err, "encode backup of bucket %s", j.BucketID)
	}
	if err := e.snapshots.SaveFile(ctx, j.BucketID, name, data); err != nil {
		return nil, nil, "", apierr.Storage("blob:backup-write-failed", err, "write backup artifact %s", name)
	}
	return snap, data, hash, nil
}

// prune deletes every other FINISHED backup job of row's bucket and returns them.
func prune(ctx context.Context, tx db.TxStore, row *types.Job) ([]types.Job, error) {
	old, err := tx.ListJobs(ctx, db.ListJobsParams{
		Kind:     types.JobKindBackup,
		BucketID: row.BucketID,
		Status:   types.JobStatusFinished,
	})
	if err != nil {
		return nil, err
	}

	var pruned []types.Job
	for _, o := range old {
		if o.ID == row.ID {
			continue
		}
		if err := tx.DeleteJob(ctx, types.JobKindBackup, o.ID); err != nil {
			return nil, err
		}
		pruned = append(pruned, o.Clone())
	}
	return pruned, nil
}

func (e *Engine) removeArtifact(ctx context.Context, bucketID, name string) {
	if err := e.snapshots.RemoveFile(context.WithoutCancel(ctx), bucketID, name); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("bucket_id", bucketID).
			Str("artifact", name).
			Msg("failed to remove backup artifact")
	}
}
