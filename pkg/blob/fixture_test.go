package blob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
	"github.com/LeeDigitalWorks/blobgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const (
	bucketA = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a01"
	bucketB = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a02"
)

type fixture struct {
	svc     *Service
	db      *memory.DB
	storage *backend.Faulty
	mail    *notify.Recorder

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newFixture builds a service over bucketA (integrity checks on) and bucketB sharing
// one in-memory backend. configure adjusts bucketA.
func newFixture(t *testing.T, configure ...func(*bucket.Config)) *fixture {
	t.Helper()

	a := bucket.Config{
		InternalID:      bucketA,
		BucketID:        "b1",
		Key:             "s3cret",
		LinkExpireTime:  time.Minute,
		IntegrityChecks: true,
		Storage:         types.BackendConfig{Type: types.StorageTypeMemory},
	}
	for _, fn := range configure {
		fn(&a)
	}
	b := bucket.Config{
		InternalID:     bucketB,
		BucketID:       "b2",
		Key:            "other",
		LinkExpireTime: time.Minute,
		Storage:        types.BackendConfig{Type: types.StorageTypeMemory},
	}
	reg, err := bucket.NewRegistry([]bucket.Config{a, b})
	require.NoError(t, err)

	f := &fixture{
		db:      memory.New(),
		storage: backend.NewFaulty(backend.NewMemoryStorage()),
		mail:    &notify.Recorder{},
		now:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	mgr := backend.NewManager()
	mgr.Set(bucketA, f.storage, a.Storage)
	mgr.Set(bucketB, f.storage, b.Storage)

	f.svc = NewService(f.db, reg, mgr, WithClock(f.clock), WithMailer(f.mail), WithBatchSize(2))
	return f
}

func (f *fixture) add(t *testing.T, bucketID string, content string, opts ...func(*NewFile)) types.FileData {
	t.Helper()
	nf := NewFile{BucketID: bucketID, FileName: "f.txt", MimeType: "text/plain", Content: []byte(content)}
	for _, o := range opts {
		o(&nf)
	}
	fd, err := f.svc.AddFile(context.Background(), nf)
	require.NoError(t, err)
	return fd
}

func (f *fixture) ledger(t *testing.T, bucketID string) int64 {
	t.Helper()
	n, err := f.svc.Ledger().Get(context.Background(), bucketID)
	require.NoError(t, err)
	return n
}

func (f *fixture) stored(t *testing.T, bucketID string) int64 {
	t.Helper()
	n, err := f.storage.NumberOfFiles(context.Background(), bucketID)
	require.NoError(t, err)
	return n
}

func bytesOf(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(i%26)
	}
	return string(b)
}
