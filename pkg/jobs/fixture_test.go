package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/blob"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/blobgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const (
	bucketA = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a01"
	bucketB = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a02"
)

type fixture struct {
	engine    *Engine
	files     *blob.Service
	buckets   *bucket.Registry
	db        *memory.DB
	snapshots *backend.Faulty
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	reg, err := bucket.NewRegistry([]bucket.Config{
		{
			InternalID:      bucketA,
			BucketID:        "b1",
			Key:             "s3cret",
			LinkExpireTime:  time.Minute,
			IntegrityChecks: true,
			Storage:         types.BackendConfig{Type: types.StorageTypeMemory},
		},
		{
			InternalID:     bucketB,
			BucketID:       "b2",
			Key:            "other",
			LinkExpireTime: time.Minute,
			Storage:        types.BackendConfig{Type: types.StorageTypeMemory},
		},
	})
	require.NoError(t, err)

	f := &fixture{
		buckets:   reg,
		db:        memory.New(),
		snapshots: backend.NewFaulty(backend.NewMemoryStorage()),
		now:       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	storage := backend.NewMemoryStorage()
	mgr := backend.NewManager()
	mgr.Set(bucketA, storage, types.BackendConfig{Type: types.StorageTypeMemory})
	mgr.Set(bucketB, storage, types.BackendConfig{Type: types.StorageTypeMemory})

	f.files = blob.NewService(f.db, reg, mgr, blob.WithClock(clock))
	f.engine = NewEngine(f.db, reg, f.snapshots, append([]Option{WithClock(clock)}, opts...)...)
	return f
}

func (f *fixture) add(t *testing.T, bucketID, name, content string) types.FileData {
	t.Helper()
	fd, err := f.files.AddFile(context.Background(), blob.NewFile{
		BucketID: bucketID,
		FileName: name,
		MimeType: "text/plain",
		Content:  []byte(content),
	})
	require.NoError(t, err)
	return fd
}

// ids returns the file ids stored for a bucket, sorted.
func (f *fixture) ids(t *testing.T, bucketID string) []string {
	t.Helper()
	var out []string
	for fd, err := range db.IterFiles(context.Background(), f.db, db.ListFilesParams{BucketID: bucketID}) {
		require.NoError(t, err)
		out = append(out, fd.ID)
	}
	return out
}

func (f *fixture) ledger(t *testing.T, bucketID string) int64 {
	t.Helper()
	n, err := f.db.GetBucketSize(context.Background(), bucketID)
	require.NoError(t, err)
	return n
}

func (f *fixture) artifacts(t *testing.T, bucketID string) int64 {
	t.Helper()
	n, err := f.snapshots.NumberOfFiles(context.Background(), bucketID)
	require.NoError(t, err)
	return n
}
