// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB for tests and
// single-process deployments. Transactions run one at a time against a private copy
// of the state, which is swapped in on commit and discarded on rollback.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

type jobKey struct {
	kind types.JobKind
	id   string
}

type state struct {
	files map[string]types.FileData
	sizes map[string]int64
	locks map[string]types.BucketLock // by bucket id
	jobs  map[jobKey]types.Job
}

func newState() *state {
	return &state{
		files: make(map[string]types.FileData),
		sizes: make(map[string]int64),
		locks: make(map[string]types.BucketLock),
		jobs:  make(map[jobKey]types.Job),
	}
}

func (s *state) clone() *state {
	return &state{
		files: maps.Clone(s.files),
		sizes: maps.Clone(s.sizes),
		locks: maps.Clone(s.locks),
		jobs:  maps.Clone(s.jobs),
	}
}

// DB is an in-memory metadata store.
type DB struct {
	txMu sync.Mutex // serializes transactions

	mu    sync.RWMutex
	state *state

	failMu     sync.Mutex
	failCommit error
}

var _ db.DB = (*DB)(nil)

func New() *DB {
	return &DB{state: newState()}
}

// FailNextCommit makes the next transaction roll back with err after its callback
// succeeded. Used to simulate a database failure between a backend write and commit.
func (d *DB) FailNextCommit(err error) {
	d.failMu.Lock()
	defer d.failMu.Unlock()
	d.failCommit = err
}

func (d *DB) WithTx(ctx context.Context, fn func(tx db.TxStore) error) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	staged := d.state.clone()
	d.mu.RUnlock()

	if err := fn(&txStore{reader: reader{s: staged}}); err != nil {
		return err
	}

	d.failMu.Lock()
	failErr := d.failCommit
	d.failCommit = nil
	d.failMu.Unlock()
	if failErr != nil {
		return failErr
	}

	d.mu.Lock()
	d.state = staged
	d.mu.Unlock()
	return nil
}

func (d *DB) Migrate(ctx context.Context) error {
	return nil
}

func (d *DB) Close() error {
	return nil
}

func (d *DB) read() reader {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return reader{s: d.state}
}

// Committed states are never mutated in place, so readers can work on a snapshot
// pointer without holding the lock.

func (d *DB) GetFile(ctx context.Context, id string) (*types.FileData, error) {
	return d.read().GetFile(ctx, id)
}

func (d *DB) ListFiles(ctx context.Context, params db.ListFilesParams) ([]*types.FileData, error) {
	return d.read().ListFiles(ctx, params)
}

func (d *DB) CountFiles(ctx context.Context, bucketID string) (int64, error) {
	return d.read().CountFiles(ctx, bucketID)
}

func (d *DB) SumFileSizes(ctx context.Context, bucketID string) (int64, error) {
	return d.read().SumFileSizes(ctx, bucketID)
}

func (d *DB) GetBucketSize(ctx context.Context, bucketID string) (int64, error) {
	return d.read().GetBucketSize(ctx, bucketID)
}

func (d *DB) GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error) {
	return d.read().GetBucketLock(ctx, bucketID)
}

func (d *DB) GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	return d.read().GetJob(ctx, kind, id)
}

func (d *DB) ListJobs(ctx context.Context, params db.ListJobsParams) ([]*types.Job, error) {
	return d.read().ListJobs(ctx, params)
}

// ============================================================================
// Reads
// ============================================================================

type reader struct {
	s *state
}

func (r reader) GetFile(ctx context.Context, id string) (*types.FileData, error) {
	f, ok := r.s.files[id]
	if !ok {
		return nil, db.ErrFileNotFound
	}
	c := f.Clone()
	return &c, nil
}

func (r reader) ListFiles(ctx context.Context, p db.ListFilesParams) ([]*types.FileData, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = db.DefaultPageSize
	}

	ids := slices.Sorted(maps.Keys(r.s.files))
	var out []*types.FileData
	for _, id := range ids {
		if p.AfterID != "" && id <= p.AfterID {
			continue
		}
		f := r.s.files[id]
		if !matchFile(f, p) {
			continue
		}
		c := f.Clone()
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matchFile(f types.FileData, p db.ListFilesParams) bool {
	if p.BucketID != "" && f.BucketID != p.BucketID {
		return false
	}
	if p.PrefixStartsWith {
		if !strings.HasPrefix(f.Prefix, p.Prefix) {
			return false
		}
	} else if p.Prefix != "" && f.Prefix != p.Prefix {
		return false
	}
	if p.ExpiredAt != nil && (f.DeleteAt == nil || f.DeleteAt.After(*p.ExpiredAt)) {
		return false
	}
	if p.LiveAt != nil && f.ExpiredAt(*p.LiveAt) {
		return false
	}
	return true
}

func (r reader) CountFiles(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	for _, f := range r.s.files {
		if f.BucketID == bucketID {
			n++
		}
	}
	return n, nil
}

func (r reader) SumFileSizes(ctx context.Context, bucketID string) (int64, error) {
	var sum int64
	for _, f := range r.s.files {
		if f.BucketID == bucketID {
			sum += f.FileSize
		}
	}
	return sum, nil
}

func (r reader) GetBucketSize(ctx context.Context, bucketID string) (int64, error) {
	return r.s.sizes[bucketID], nil
}

func (r reader) GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error) {
	l, ok := r.s.locks[bucketID]
	if !ok {
		return nil, db.ErrBucketLockNotFound
	}
	return &l, nil
}

func (r reader) GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	j, ok := r.s.jobs[jobKey{kind, id}]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	c := j.Clone()
	return &c, nil
}

func (r reader) ListJobs(ctx context.Context, p db.ListJobsParams) ([]*types.Job, error) {
	var out []*types.Job
	for k, j := range r.s.jobs {
		if p.Kind != "" && k.kind != p.Kind {
			continue
		}
		if p.BucketID != "" && j.BucketID != p.BucketID {
			continue
		}
		if p.Status != "" && j.Status != p.Status {
			continue
		}
		c := j.Clone()
		out = append(out, &c)
	}

	slices.SortFunc(out, func(a, b *types.Job) int {
		if c := b.Started.Compare(a.Started); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// ============================================================================
// Transactional writes
// ============================================================================

type txStore struct {
	reader
}

var _ db.TxStore = (*txStore)(nil)

func (t *txStore) CreateFile(ctx context.Context, f *types.FileData) error {
	if _, exists := t.s.files[f.ID]; exists {
		return db.ErrFileExists
	}
	c := f.Clone()
	c.Content = nil
	t.s.files[f.ID] = c
	return nil
}

func (t *txStore) UpdateFile(ctx context.Context, f *types.FileData) error {
	if _, exists := t.s.files[f.ID]; !exists {
		return db.ErrFileNotFound
	}
	c := f.Clone()
	c.Content = nil
	t.s.files[f.ID] = c
	return nil
}

func (t *txStore) DeleteFile(ctx context.Context, id string) error {
	if _, exists := t.s.files[id]; !exists {
		return db.ErrFileNotFound
	}
	delete(t.s.files, id)
	return nil
}

func (t *txStore) DeleteFilesByBucket(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	for id, f := range t.s.files {
		if f.BucketID == bucketID {
			delete(t.s.files, id)
			n++
		}
	}
	return n, nil
}

func (t *txStore) GetFileForUpdate(ctx context.Context, id string) (*types.FileData, error) {
	return t.GetFile(ctx, id)
}

func (t *txStore) AddBucketSize(ctx context.Context, bucketID string, delta int64) (int64, error) {
	t.s.sizes[bucketID] += delta
	return t.s.sizes[bucketID], nil
}

func (t *txStore) SetBucketSize(ctx context.Context, bucketID string, size int64) error {
	t.s.sizes[bucketID] = size
	return nil
}

func (t *txStore) PutBucketLock(ctx context.Context, lock *types.BucketLock) error {
	t.s.locks[lock.BucketID] = *lock
	return nil
}

func (t *txStore) DeleteBucketLock(ctx context.Context, bucketID string) error {
	if _, ok := t.s.locks[bucketID]; !ok {
		return db.ErrBucketLockNotFound
	}
	delete(t.s.locks, bucketID)
	return nil
}

func (t *txStore) CreateJob(ctx context.Context, job *types.Job) error {
	t.s.jobs[jobKey{job.Kind, job.ID}] = job.Clone()
	return nil
}

func (t *txStore) GetJobForUpdate(ctx context.Context, kind types.JobKind, id string) (*types.Job, error) {
	return t.GetJob(ctx, kind, id)
}

func (t *txStore) UpdateJob(ctx context.Context, job *types.Job) error {
	k := jobKey{job.Kind, job.ID}
	if _, ok := t.s.jobs[k]; !ok {
		return db.ErrJobNotFound
	}
	t.s.jobs[k] = job.Clone()
	return nil
}

func (t *txStore) DeleteJob(ctx context.Context, kind types.JobKind, id string) error {
	k := jobKey{kind, id}
	if _, ok := t.s.jobs[k]; !ok {
		return db.ErrJobNotFound
	}
	delete(t.s.jobs, k)
	return nil
}
