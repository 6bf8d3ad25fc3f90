// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bucketA = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a01"
	bucketB = "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0a02"
)

func readAll(t *testing.T, b types.Backend, bucketID, fileID string) []byte {
	t.Helper()
	rc, err := b.GetBinaryContent(context.Background(), bucketID, fileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func collect(t *testing.T, seq func(func(string, error) bool)) []string {
	t.Helper()
	var ids []string
	for id, err := range seq {
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegister_CustomType(t *testing.T) {
	t.Parallel()

	customType := types.StorageType("test-custom")
	Register(customType, func(cfg types.BackendConfig) (types.Backend, error) {
		return NewMemoryStorage(), nil
	})

	b, err := New(types.BackendConfig{Type: customType})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, types.StorageTypeMemory, b.Type())
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(types.BackendConfig{Type: "unknown-type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(types.BackendConfig{Type: types.StorageTypeFilesystem})
	assert.ErrorContains(t, err, "path required")

	_, err = New(types.BackendConfig{Type: types.StorageTypeS3})
	assert.ErrorContains(t, err, "bucket required")
}

// ============================================================================
// Contract Tests
// ============================================================================

func backends(t *testing.T) map[string]types.Backend {
	t.Helper()
	fsb, err := NewFilesystem(types.BackendConfig{Type: types.StorageTypeFilesystem, Path: t.TempDir()})
	require.NoError(t, err)
	return map[string]types.Backend{
		"memory":     NewMemoryStorage(),
		"filesystem": fsb,
		"s3":         NewS3WithClient(newFakeS3(2), "blobs", "data"),
	}
}

func TestBackend_Contract(t *testing.T) {
	t.Parallel()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, b.SaveFile(ctx, bucketA, "f1", []byte("hello")))
			require.NoError(t, b.SaveFile(ctx, bucketA, "f2", []byte("world!")))
			require.NoError(t, b.SaveFile(ctx, bucketA, "f3", []byte("x")))
			require.NoError(t, b.SaveFile(ctx, bucketB, "f1", []byte("other bucket")))

			assert.Equal(t, []byte("hello"), readAll(t, b, bucketA, "f1"))
			assert.Equal(t, []byte("other bucket"), readAll(t, b, bucketB, "f1"))

			// overwrite replaces
			require.NoError(t, b.SaveFile(ctx, bucketA, "f3", []byte("xyz")))
			assert.Equal(t, []byte("xyz"), readAll(t, b, bucketA, "f3"))

			sum, err := b.SumOfFileSizes(ctx, bucketA)
			require.NoError(t, err)
			assert.Equal(t, int64(5+6+3), sum)

			n, err := b.NumberOfFiles(ctx, bucketA)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			ids := collect(t, b.ListFiles(ctx, bucketA))
			assert.ElementsMatch(t, []string{"f1", "f2", "f3"}, ids)
			assert.ElementsMatch(t, ids, collect(t, b.ListFiles(ctx, bucketA)), "listing restarts")

			var first []string
			for id, err := range b.ListFiles(ctx, bucketA) {
				require.NoError(t, err)
				first = append(first, id)
				break
			}
			assert.Len(t, first, 1)

			require.NoError(t, b.RemoveFile(ctx, bucketA, "f2"))
			require.NoError(t, b.RemoveFile(ctx, bucketA, "f2"), "removing twice is fine")

			_, err = b.GetBinaryContent(ctx, bucketA, "f2")
			assert.ErrorIs(t, err, ErrFileNotFound)

			n, err = b.NumberOfFiles(ctx, bucketA)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			empty, err := b.SumOfFileSizes(ctx, "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0aff")
			require.NoError(t, err)
			assert.Zero(t, empty)
			assert.Empty(t, collect(t, b.ListFiles(ctx, "0190a4b2-6f7e-7c3a-9d41-2b8e5f1c0aff")))

			assert.Error(t, b.SaveFile(ctx, bucketA, "../escape", []byte("x")))
			assert.Error(t, b.SaveFile(ctx, "", "f1", []byte("x")))
		})
	}
}

func TestFilesystem_Layout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	b, err := NewFilesystem(types.BackendConfig{Type: types.StorageTypeFilesystem, Path: root})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.SaveFile(ctx, bucketA, "f1", []byte("hello")))
	data, err := os.ReadFile(filepath.Join(root, bucketA, "f1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Leftover temporaries and directories are not files.
	require.NoError(t, os.WriteFile(filepath.Join(root, bucketA, tempFilePrefix+"f2-123"), []byte("partial"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, bucketA, "sub"), 0o755))

	n, err := b.NumberOfFiles(ctx, bucketA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"f1"}, collect(t, b.ListFiles(ctx, bucketA)))
}

func TestS3_ListPagesLazily(t *testing.T) {
	t.Parallel()

	fake := newFakeS3(2)
	b := NewS3WithClient(fake, "blobs", "")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.SaveFile(ctx, bucketA, id, []byte(id)))
	}

	for id, err := range b.ListFiles(ctx, bucketA) {
		require.NoError(t, err)
		assert.Equal(t, "a", id)
		break
	}
	assert.Equal(t, 1, fake.listCalls(), "only the first page is fetched")

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(t, b.ListFiles(ctx, bucketA)))
}

func TestS3_ListError(t *testing.T) {
	t.Parallel()

	fake := newFakeS3(2)
	fake.listErr = errors.New("throttled")
	b := NewS3WithClient(fake, "blobs", "")

	var got error
	for _, err := range b.ListFiles(context.Background(), bucketA) {
		got = err
	}
	assert.ErrorContains(t, got, "throttled")

	_, err := b.SumOfFileSizes(context.Background(), bucketA)
	assert.ErrorContains(t, err, "throttled")
}

// ============================================================================
// Faulty
// ============================================================================

func TestFaulty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	f := NewFaulty(NewMemoryStorage())
	require.NoError(t, f.SaveFile(ctx, bucketA, "f1", []byte("1")))
	require.NoError(t, f.SaveFile(ctx, bucketA, "f2", []byte("2")))

	f.FailSave(boom)
	assert.ErrorIs(t, f.SaveFile(ctx, bucketA, "f3", []byte("3")), boom)
	f.FailSave(nil)
	assert.NoError(t, f.SaveFile(ctx, bucketA, "f3", []byte("3")))

	f.FailRemove(boom, "f1")
	assert.ErrorIs(t, f.RemoveFile(ctx, bucketA, "f1"), boom)
	assert.NoError(t, f.RemoveFile(ctx, bucketA, "f2"))
	f.FailRemove(nil, "f1")
	assert.NoError(t, f.RemoveFile(ctx, bucketA, "f1"))

	f.FailGet(boom)
	_, err := f.GetBinaryContent(ctx, bucketA, "f3")
	assert.ErrorIs(t, err, boom)

	f.FailList(boom)
	var last error
	for _, err := range f.ListFiles(ctx, bucketA) {
		last = err
	}
	assert.ErrorIs(t, last, boom)
}

func TestFaulty_HoldSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewFaulty(NewMemoryStorage())

	entered, release := f.HoldSave()
	done := make(chan error, 1)
	go func() { done <- f.SaveFile(ctx, bucketA, "f1", []byte("held")) }()

	<-entered
	n, err := f.NumberOfFiles(ctx, bucketA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	select {
	case <-done:
		t.Fatal("save returned before release")
	default:
	}

	release()
	require.NoError(t, <-done)
	assert.NoError(t, f.SaveFile(ctx, bucketA, "f2", []byte("free")))
}

// ============================================================================
// Manager Tests
// ============================================================================

func TestManager_AddGet(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	require.NoError(t, mgr.AddMemory(bucketA))

	b, ok := mgr.Get(bucketA)
	require.True(t, ok)
	assert.Equal(t, types.StorageTypeMemory, b.Type())

	cfg, ok := mgr.Config(bucketA)
	require.True(t, ok)
	assert.Equal(t, types.StorageTypeMemory, cfg.Type)

	_, ok = mgr.Get(bucketB)
	assert.False(t, ok)
}

func TestManager_Add_UnknownType(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	err := mgr.Add(bucketA, types.BackendConfig{Type: "nope"})
	assert.ErrorContains(t, err, "unknown storage type")
	assert.Empty(t, mgr.List())
}

func TestManager_ReplaceRemoveList(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	require.NoError(t, mgr.AddMemory(bucketB))
	require.NoError(t, mgr.AddMemory(bucketA))
	assert.Equal(t, []string{bucketA, bucketB}, mgr.List())

	first, _ := mgr.Get(bucketA)
	require.NoError(t, mgr.AddMemory(bucketA))
	second, _ := mgr.Get(bucketA)
	assert.NotSame(t, first, second)

	require.NoError(t, mgr.Remove(bucketA))
	require.NoError(t, mgr.Remove(bucketA))
	assert.Equal(t, []string{bucketB}, mgr.List())

	require.NoError(t, mgr.Close())
	assert.Empty(t, mgr.List())
}

func TestManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, mgr.AddMemory(bucketA))
		}()
		go func() {
			defer wg.Done()
			mgr.Get(bucketA)
			mgr.List()
		}()
	}
	wg.Wait()

	_, ok := mgr.Get(bucketA)
	assert.True(t, ok)
}
