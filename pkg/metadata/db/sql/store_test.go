// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

func newMockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewStore(sqlDB, dialect, db.Config{Driver: db.Driver(dialect.Name())}), mock
}

var fileRowColumns = []string{
	"identifier", "prefix", "file_name", "internal_bucket_id", "date_created", "date_modified",
	"last_access", "delete_at", "file_size", "mime_type", "metadata", "file_type", "file_hash",
	"metadata_hash", "notify_email",
}

// ============================================================================
// Ledger
// ============================================================================

func TestAddBucketSize_LocksRowInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bucket_sizes (identifier, current_bucket_size) VALUES ($1, 0) ON CONFLICT (identifier) DO NOTHING")).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bucket_sizes SET current_bucket_size = current_bucket_size + $1 WHERE identifier = $2")).
		WithArgs(int64(100), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_bucket_size FROM bucket_sizes WHERE identifier = $1")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"current_bucket_size"}).AddRow(int64(300)))
	mock.ExpectCommit()

	var got int64
	err := store.WithTx(context.Background(), func(tx db.TxStore) error {
		var err error
		got, err = tx.AddBucketSize(context.Background(), "b1", 100)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddBucketSize_MySQLUsesInsertIgnore(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, MySQLDialect{})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO bucket_sizes (identifier, current_bucket_size) VALUES (?, 0)")).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bucket_sizes SET current_bucket_size = current_bucket_size + ? WHERE identifier = ?")).
		WithArgs(int64(-100), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_bucket_size FROM bucket_sizes WHERE identifier = ?")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"current_bucket_size"}).AddRow(int64(-100)))
	mock.ExpectCommit()

	var got int64
	err := store.WithTx(context.Background(), func(tx db.TxStore) error {
		var err error
		got, err = tx.AddBucketSize(context.Background(), "b1", -100)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-100), got, "negative ledger values are stored as is")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnCallbackError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM file_data WHERE identifier = $1")).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx db.TxStore) error {
		if err := tx.DeleteFile(context.Background(), "f1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBucketSize_MissingRowIsZero(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_bucket_size FROM bucket_sizes")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"current_bucket_size"}))

	size, err := store.GetBucketSize(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

// ============================================================================
// Files
// ============================================================================

func TestGetFile_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	mock.ExpectQuery(regexp.QuoteMeta("FROM file_data WHERE identifier = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(fileRowColumns))

	_, err := store.GetFile(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrFileNotFound)
}

func TestGetFileForUpdate_ScansNullableColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM file_data WHERE identifier = $1 FOR UPDATE")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(fileRowColumns).AddRow(
			"f1", "reports", "a.txt", "b1", created, created, created, nil, int64(100),
			"text/plain", `{"k":"v"}`, nil, nil, nil, nil,
		))
	mock.ExpectCommit()

	var got *types.FileData
	err := store.WithTx(context.Background(), func(tx db.TxStore) error {
		var err error
		got, err = tx.GetFileForUpdate(context.Background(), "f1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/a.txt", got.Path())
	assert.Nil(t, got.DeleteAt)
	assert.Equal(t, int64(100), got.FileSize)
	assert.JSONEq(t, `{"k":"v"}`, string(got.Metadata))
	assert.Empty(t, got.FileHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiles_PrefixStartsWithEscapesWildcards(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE internal_bucket_id = $1 AND prefix LIKE $2 AND identifier > $3 ORDER BY identifier LIMIT $4")).
		WithArgs("b1", `50\%%`, "f0", 10).
		WillReturnRows(sqlmock.NewRows(fileRowColumns))

	files, err := store.ListFiles(context.Background(), db.ListFilesParams{
		BucketID:         "b1",
		Prefix:           "50%",
		PrefixStartsWith: true,
		AfterID:          "f0",
		Limit:            10,
	})
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Jobs
// ============================================================================

func TestUpdateJob_MissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE metadata_restore_jobs SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx db.TxStore) error {
		return tx.UpdateJob(context.Background(), &types.Job{
			ID:     "j1",
			Kind:   types.JobKindRestore,
			Status: types.JobStatusFinished,
		})
	})
	assert.ErrorIs(t, err, db.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_UnknownKind(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t, PostgresDialect{})
	_, err := store.GetJob(context.Background(), types.JobKind("export"), "j1")
	assert.ErrorContains(t, err, "unknown job kind")
}

// ============================================================================
// Migrations
// ============================================================================

func TestMigrate_UpToDate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, PostgresDialect{})
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
