// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

func init() {
	Register(types.StorageTypeMemory, func(cfg types.BackendConfig) (types.Backend, error) {
		return NewMemoryStorage(), nil
	})
}

// MemoryStorage keeps file bytes in a map. Used for tests and local runs.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Type() types.StorageType {
	return types.StorageTypeMemory
}

func (m *MemoryStorage) SaveFile(ctx context.Context, bucketID, fileID string, data []byte) error {
	if err := validateIDs(bucketID, fileID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objectKey(bucketID, fileID)] = bytes.Clone(data)
	return nil
}

func (m *MemoryStorage) GetBinaryContent(ctx context.Context, bucketID, fileID string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[objectKey(bucketID, fileID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, bucketID, fileID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) RemoveFile(ctx context.Context, bucketID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, objectKey(bucketID, fileID))
	return nil
}

func (m *MemoryStorage) SumOfFileSizes(ctx context.Context, bucketID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	prefix := bucketID + "/"
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			total += int64(len(v))
		}
	}
	return total, nil
}

func (m *MemoryStorage) NumberOfFiles(ctx context.Context, bucketID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	prefix := bucketID + "/"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

// ListFiles yields file ids in sorted order from a snapshot taken when iteration starts.
func (m *MemoryStorage) ListFiles(ctx context.Context, bucketID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix := bucketID + "/"

		m.mu.RLock()
		var ids []string
		for k := range m.data {
			if id, ok := strings.CutPrefix(k, prefix); ok {
				ids = append(ids, id)
			}
		}
		m.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (m *MemoryStorage) Close() error {
	return nil
}

// Reset drops every stored file.
func (m *MemoryStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
}

// AddMemory is a convenience method to add a memory backend to the manager
func (mgr *Manager) AddMemory(bucketID string) error {
	return mgr.Add(bucketID, types.BackendConfig{
		Type: types.StorageTypeMemory,
	})
}
