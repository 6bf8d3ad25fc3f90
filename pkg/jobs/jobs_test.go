package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/compression"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// =============================================================================
// Backup
// =============================================================================

func TestBackup_SnapshotsBucket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, bucketA, "a.txt", strings.Repeat("a", 100))
	f.add(t, bucketA, "b.txt", strings.Repeat("b", 50))
	f.add(t, bucketB, "c.txt", "other bucket")

	j, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)

	assert.Equal(t, types.JobKindBackup, j.Kind)
	assert.Equal(t, types.JobStatusFinished, j.Status)
	assert.Equal(t, bucketA, j.BucketID)
	assert.Equal(t, int64(2), j.FileCount)
	assert.Equal(t, int64(150), j.TotalBytes)
	assert.Equal(t, bucketA+"/"+j.ID+".json.zst", j.FileRef)
	require.NotNil(t, j.Finished)
	assert.Empty(t, j.ErrorID)

	data, err := readAll(ctx, f.snapshots, bucketA, j.ID+".json.zst")
	require.NoError(t, err)
	assert.Equal(t, hashBytes(data), j.Hash)

	snap, err := decodeSnapshot(j.ID+".json.zst", data)
	require.NoError(t, err)
	assert.Equal(t, bucketA, snap.BucketID)
	assert.Len(t, snap.Files, 2)

	stored, err := f.engine.GetJob(ctx, types.JobKindBackup, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j, stored)
}

func TestBackup_EmptyBucket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	j, err := f.engine.Backup(context.Background(), bucketB)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, j.Status)
	assert.Zero(t, j.FileCount)
	assert.Equal(t, int64(1), f.artifacts(t, bucketB))
}

func TestBackup_UnknownBucket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.engine.Backup(context.Background(), "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0aff")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
	assert.Equal(t, "blob:bucket-not-found", apierr.IDOf(err))

	jobs, err := f.engine.ListJobs(context.Background(), db.ListJobsParams{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBackup_Compression(t *testing.T) {
	t.Parallel()

	for _, algo := range []compression.Algorithm{compression.None, compression.LZ4, compression.ZSTD, compression.S2} {
		t.Run(string(algo), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, WithCompression(algo))
			ctx := context.Background()
			f.add(t, bucketA, "a.txt", strings.Repeat("compressible ", 64))

			j, err := f.engine.Backup(ctx, bucketA)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(j.FileRef, ".json"+algo.Extension()))

			restored, err := f.engine.Restore(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusFinished, restored.Status)
			assert.Equal(t, int64(1), restored.FileCount)
		})
	}
}

func TestBackup_StorageFailureIsPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	f.snapshots.FailSave(errors.New("disk full"))

	j, err := f.engine.Backup(ctx, bucketA)
	require.Error(t, err)
	assert.Equal(t, "blob:backup-write-failed", apierr.IDOf(err))
	assert.Equal(t, types.JobStatusError, j.Status)

	jobs, err := f.engine.ListJobs(ctx, db.ListJobsParams{Kind: types.JobKindBackup})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobStatusError, jobs[0].Status)
	assert.Equal(t, "blob:backup-write-failed", jobs[0].ErrorID)
	assert.Contains(t, jobs[0].ErrorMessage, "write backup artifact")
	assert.NotNil(t, jobs[0].Finished)
}

func TestBackup_PrunesOlderFinishedBackups(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	first, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)
	other, err := f.engine.Backup(ctx, bucketB)
	require.NoError(t, err)

	f.snapshots.FailSave(errors.New("disk full"))
	failed, err := f.engine.Backup(ctx, bucketA)
	require.Error(t, err)
	f.snapshots.FailSave(nil)

	second, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)

	_, err = f.engine.GetJob(ctx, types.JobKindBackup, first.ID)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
	assert.Equal(t, int64(1), f.artifacts(t, bucketA))

	// Other buckets and unfinished jobs are left alone
	for _, id := range []string{other.ID, failed.ID, second.ID} {
		_, err := f.engine.GetJob(ctx, types.JobKindBackup, id)
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), f.artifacts(t, bucketB))
}

// =============================================================================
// Cancellation
// =============================================================================

func TestBackup_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.engine.StartBackup(ctx, bucketA)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, j.Status)

	cancelled, err := f.engine.CancelBackup(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.Finished)

	out, err := f.engine.RunBackup(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, out.Status)
	assert.Zero(t, f.artifacts(t, bucketA))

	_, err = f.engine.CancelBackup(ctx, j.ID)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindConflict))
	assert.Equal(t, "blob:cannot-cancel-finished-job", apierr.IDOf(err))
}

func TestBackup_CancelBeforeFinishWins(t *testing.T) {
	t.Parallel()
	var f *fixture
	f = newFixture(t, WithCheckpointHook(func(ctx context.Context, j types.Job, cp string) {
		if cp == CheckpointFinish {
			_, err := f.engine.CancelBackup(ctx, j.ID)
			assert.NoError(t, err)
		}
	}))
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	j, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, j.Status)
	assert.Empty(t, j.FileRef)
	assert.Zero(t, f.artifacts(t, bucketA))
}

func TestCancel_FinishedJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)

	_, err = f.engine.CancelBackup(ctx, j.ID)
	assert.Equal(t, "blob:cannot-cancel-finished-job", apierr.IDOf(err))

	stored, err := f.engine.GetJob(ctx, types.JobKindBackup, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, stored.Status)
}

func TestCancel_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CancelBackup(ctx, "missing")
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
	_, err = f.engine.CancelRestore(ctx, "missing")
	assert.Equal(t, "blob:job-not-found", apierr.IDOf(err))
}

// =============================================================================
// Restore
// =============================================================================

func TestRestore_ReplacesBucketMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	keep := f.add(t, bucketA, "keep.txt", strings.Repeat("k", 100))
	gone := f.add(t, bucketA, "gone.txt", strings.Repeat("g", 200))
	f.add(t, bucketB, "other.txt", "untouched")
	want := f.ids(t, bucketA)

	backup, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)

	_, err = f.files.RemoveFile(ctx, gone.ID)
	require.NoError(t, err)
	f.add(t, bucketA, "new.txt", strings.Repeat("n", 30))
	require.Equal(t, int64(130), f.ledger(t, bucketA))

	j, err := f.engine.Restore(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobKindRestore, j.Kind)
	assert.Equal(t, types.JobStatusFinished, j.Status)
	assert.Equal(t, backup.ID, j.BackupJobID)
	assert.Equal(t, backup.Hash, j.Hash)
	assert.Equal(t, int64(2), j.FileCount)
	assert.Equal(t, int64(300), j.TotalBytes)

	assert.Equal(t, want, f.ids(t, bucketA))
	assert.Equal(t, int64(300), f.ledger(t, bucketA))
	assert.Len(t, f.ids(t, bucketB), 1)

	restored, err := f.db.GetFile(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, keep.FileHash, restored.FileHash)
	assert.Equal(t, keep.FileName, restored.FileName)
}

func TestRestore_LocksLedgerBeforeRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "abc")

	backup, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)

	rec := &txRecorder{DB: f.db}
	engine := NewEngine(rec, f.buckets, f.snapshots, WithClock(func() time.Time { return f.now }))
	_, err = engine.Restore(ctx, backup.ID)
	require.NoError(t, err)

	calls := rec.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "AddBucketSize("+bucketA+",0)", calls[0])
	assert.Contains(t, calls, "DeleteFilesByBucket("+bucketA+")")
}

func TestRestore_RequiresFinishedBackup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.StartRestore(ctx, "missing")
	assert.Equal(t, "blob:backup-job-not-found", apierr.IDOf(err))

	running, err := f.engine.StartBackup(ctx, bucketA)
	require.NoError(t, err)
	_, err = f.engine.StartRestore(ctx, running.ID)
	assert.True(t, apierr.IsKind(err, apierr.KindConflict))
	assert.Equal(t, "blob:backup-not-finished", apierr.IDOf(err))
}

func TestRestore_HashMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	backup, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)
	f.add(t, bucketA, "b.txt", "world")

	name := backup.ID + ".json.zst"
	require.NoError(t, f.snapshots.SaveFile(ctx, bucketA, name, []byte("tampered")))

	j, err := f.engine.Restore(ctx, backup.ID)
	require.Error(t, err)
	assert.Equal(t, "blob:backup-hash-mismatch", apierr.IDOf(err))
	assert.Equal(t, types.JobStatusError, j.Status)
	assert.Equal(t, "blob:backup-hash-mismatch", j.ErrorID)

	// Bucket untouched
	assert.Len(t, f.ids(t, bucketA), 2)
	assert.Equal(t, int64(10), f.ledger(t, bucketA))
}

func TestRestore_CommitFailureLeavesBucketUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	backup, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)
	f.add(t, bucketA, "b.txt", "world")

	j, err := f.engine.StartRestore(ctx, backup.ID)
	require.NoError(t, err)

	f.db.FailNextCommit(errors.New("connection reset"))
	out, err := f.engine.RunRestore(ctx, j.ID)
	require.Error(t, err)
	assert.Equal(t, types.JobStatusError, out.Status)
	assert.Equal(t, apierr.InternalErrorID, out.ErrorID)
	assert.Contains(t, out.ErrorMessage, "connection reset")

	assert.Len(t, f.ids(t, bucketA), 2)
	assert.Equal(t, int64(10), f.ledger(t, bucketA))
}

func TestRestore_CancelWinsOverLateSuccess(t *testing.T) {
	t.Parallel()
	var f *fixture
	f = newFixture(t, WithCheckpointHook(func(ctx context.Context, j types.Job, cp string) {
		if j.Kind == types.JobKindRestore && cp == CheckpointFinish {
			_, err := f.engine.CancelRestore(ctx, j.ID)
			assert.NoError(t, err)
		}
	}))
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	backup, err := f.engine.Backup(ctx, bucketA)
	require.NoError(t, err)
	f.add(t, bucketA, "b.txt", "world")

	j, err := f.engine.Restore(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, j.Status)
	assert.Zero(t, j.FileCount)

	assert.Len(t, f.ids(t, bucketA), 2)

	_, err = f.engine.CancelRestore(ctx, j.ID)
	assert.Equal(t, "blob:cannot-cancel-finished-job", apierr.IDOf(err))
}

// =============================================================================
// Queue
// =============================================================================

func TestEnqueue_RunsOnWorker(t *testing.T) {
	t.Parallel()
	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	f := newFixture(t, WithQueue(q))
	ctx := context.Background()
	f.add(t, bucketA, "a.txt", "hello")

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "test", Queue: q, PollInterval: 10 * time.Millisecond})
	for _, h := range f.engine.Handlers() {
		w.RegisterHandler(h)
	}
	w.Start(ctx)
	defer w.Stop()

	backup, err := f.engine.EnqueueBackup(ctx, bucketA)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, backup.Status)

	require.Eventually(t, func() bool {
		j, err := f.engine.GetJob(ctx, types.JobKindBackup, backup.ID)
		return err == nil && j.Status == types.JobStatusFinished
	}, 5*time.Second, 10*time.Millisecond)

	restore, err := f.engine.EnqueueRestore(ctx, backup.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := f.engine.GetJob(ctx, types.JobKindRestore, restore.ID)
		return err == nil && j.Status == types.JobStatusFinished
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEnqueue_WithoutQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.engine.EnqueueBackup(context.Background(), bucketA)
	assert.Equal(t, "blob:job-queue-not-configured", apierr.IDOf(err))
}

func TestHandler_InvalidPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, h := range f.engine.Handlers() {
		err := h.Handle(context.Background(), &taskqueue.Task{ID: "t1", Type: h.Type(), Payload: []byte(`{}`)})
		assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)
	}
}

// txRecorder logs the bucket-scoped writes issued inside transactions.
type txRecorder struct {
	db.DB

	mu    sync.Mutex
	calls []string
}

func (r *txRecorder) WithTx(ctx context.Context, fn func(tx db.TxStore) error) error {
	return r.DB.WithTx(ctx, func(tx db.TxStore) error {
		return fn(&recordingTx{TxStore: tx, r: r})
	})
}

func (r *txRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *txRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type recordingTx struct {
	db.TxStore
	r *txRecorder
}

func (t *recordingTx) AddBucketSize(ctx context.Context, bucketID string, delta int64) (int64, error) {
	t.r.record(fmt.Sprintf("AddBucketSize(%s,%d)", bucketID, delta))
	return t.TxStore.AddBucketSize(ctx, bucketID, delta)
}

func (t *recordingTx) DeleteFilesByBucket(ctx context.Context, bucketID string) (int64, error) {
	t.r.record(fmt.Sprintf("DeleteFilesByBucket(%s)", bucketID))
	return t.TxStore.DeleteFilesByBucket(ctx, bucketID)
}

func (t *recordingTx) SetBucketSize(ctx context.Context, bucketID string, size int64) error {
	t.r.record(fmt.Sprintf("SetBucketSize(%s,%d)", bucketID, size))
	return t.TxStore.SetBucketSize(ctx, bucketID, size)
}
