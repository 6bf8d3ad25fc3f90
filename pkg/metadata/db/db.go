// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package db defines the metadata store used by the blobgate services: file rows,
// per-bucket size ledger rows, bucket locks and backup/restore job records.
//
// Every mutation happens inside WithTx. Implementations must give TxStore row-level
// locking on the *ForUpdate and AddBucketSize methods so that concurrent
// transactions on the same bucket serialize instead of losing updates.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

var (
	ErrFileNotFound       = errors.New("file not found")
	ErrFileExists         = errors.New("file already exists")
	ErrJobNotFound        = errors.New("job not found")
	ErrBucketLockNotFound = errors.New("bucket lock not found")
)

// Driver identifies a metadata store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = time.Minute

	// DefaultPageSize bounds every list query that is not given a limit.
	DefaultPageSize = 1000
)

// Config selects and tunes the metadata store.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with pool defaults for driver.
func DefaultConfig(driver Driver, dsn string) Config {
	return Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
	}
}

// ListFilesParams filters and pages file rows. Rows are ordered by id, which is a
// UUID v7 and therefore ordered by creation time.
type ListFilesParams struct {
	// BucketID restricts results to one bucket. Empty means all buckets.
	BucketID string

	// Prefix filters on the prefix column: exact match, or a starts-with match
	// when PrefixStartsWith is set.
	Prefix           string
	PrefixStartsWith bool

	// ExpiredAt, when set, returns only rows with deleteAt <= ExpiredAt.
	ExpiredAt *time.Time

	// LiveAt, when set, hides rows with deleteAt <= LiveAt.
	LiveAt *time.Time

	// AfterID continues a listing after the given id.
	AfterID string
	Limit   int
}

// ListJobsParams filters job records. Results are ordered newest first.
type ListJobsParams struct {
	Kind     types.JobKind
	BucketID string
	Status   types.JobStatus
	Limit    int
}

// FileStore reads file rows.
type FileStore interface {
	GetFile(ctx context.Context, id string) (*types.FileData, error)
	ListFiles(ctx context.Context, params ListFilesParams) ([]*types.FileData, error)
	CountFiles(ctx context.Context, bucketID string) (int64, error)
	// SumFileSizes is the ground truth the ledger is compared against.
	SumFileSizes(ctx context.Context, bucketID string) (int64, error)
}

// BucketSizeStore reads ledger rows. A bucket without a row has size 0.
type BucketSizeStore interface {
	GetBucketSize(ctx context.Context, bucketID string) (int64, error)
}

type BucketLockStore interface {
	GetBucketLock(ctx context.Context, bucketID string) (*types.BucketLock, error)
}

type JobStore interface {
	GetJob(ctx context.Context, kind types.JobKind, id string) (*types.Job, error)
	ListJobs(ctx context.Context, params ListJobsParams) ([]*types.Job, error)
}

// Reader is the read side shared by DB and TxStore.
type Reader interface {
	FileStore
	BucketSizeStore
	BucketLockStore
	JobStore
}

// TxStore is the transactional view handed to WithTx callbacks.
type TxStore interface {
	Reader

	CreateFile(ctx context.Context, f *types.FileData) error
	UpdateFile(ctx context.Context, f *types.FileData) error
	DeleteFile(ctx context.Context, id string) error
	DeleteFilesByBucket(ctx context.Context, bucketID string) (int64, error)
	// GetFileForUpdate reads a row and locks it until the transaction ends.
	GetFileForUpdate(ctx context.Context, id string) (*types.FileData, error)

	// AddBucketSize locks the bucket's ledger row (creating it at 0 if missing),
	// adds delta and returns the new value. The result may be negative.
	AddBucketSize(ctx context.Context, bucketID string, delta int64) (int64, error)
	SetBucketSize(ctx context.Context, bucketID string, size int64) error

	PutBucketLock(ctx context.Context, lock *types.BucketLock) error
	DeleteBucketLock(ctx context.Context, bucketID string) error

	CreateJob(ctx context.Context, job *types.Job) error
	GetJobForUpdate(ctx context.Context, kind types.JobKind, id string) (*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
	DeleteJob(ctx context.Context, kind types.JobKind, id string) error
}

// DB is the metadata store.
type DB interface {
	Reader

	// WithTx runs fn in a transaction, committing when fn returns nil and rolling
	// back otherwise.
	WithTx(ctx context.Context, fn func(tx TxStore) error) error

	Migrate(ctx context.Context) error
	Close() error
}
