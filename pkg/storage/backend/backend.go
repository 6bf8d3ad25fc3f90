// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the storage backends that hold file bytes.
// All backends implement types.Backend and are created through the registry by
// storage type.
package backend

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// ErrFileNotFound is wrapped by GetBinaryContent when a file has no bytes stored.
var ErrFileNotFound = errors.New("backend: file not found")

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
)

// Factory creates a Backend from config
type Factory func(cfg types.BackendConfig) (types.Backend, error)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Backend from config
func New(cfg types.BackendConfig) (types.Backend, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
	return f(cfg)
}

// objectKey namespaces a file under its bucket.
func objectKey(bucketID, fileID string) string {
	return bucketID + "/" + fileID
}

// validateIDs rejects ids that would escape their bucket namespace.
func validateIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
			return fmt.Errorf("invalid identifier %q", id)
		}
	}
	return nil
}

// Manager maps internal bucket ids to their backends.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]types.Backend
	configs  map[string]types.BackendConfig
}

// NewManager creates a backend manager
func NewManager() *Manager {
	return &Manager{
		backends: make(map[string]types.Backend),
		configs:  make(map[string]types.BackendConfig),
	}
}

// Add creates the backend for bucketID, closing any previous one.
func (m *Manager) Add(bucketID string, cfg types.BackendConfig) error {
	b, err := New(cfg)
	if err != nil {
		return fmt.Errorf("create backend for bucket %s: %w", bucketID, err)
	}
	m.Set(bucketID, b, cfg)
	return nil
}

// Set installs an already built backend for bucketID.
func (m *Manager) Set(bucketID string, b types.Backend, cfg types.BackendConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.backends[bucketID]; exists && old != b {
		old.Close()
	}
	m.backends[bucketID] = b
	m.configs[bucketID] = cfg
}

// Get retrieves the backend of a bucket
func (m *Manager) Get(bucketID string) (types.Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[bucketID]
	return b, ok
}

// Config returns the configuration the backend of bucketID was built from.
func (m *Manager) Config(bucketID string) (types.BackendConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[bucketID]
	return c, ok
}

// Remove closes and removes a backend
func (m *Manager) Remove(bucketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[bucketID]; ok {
		delete(m.backends, bucketID)
		delete(m.configs, bucketID)
		return b.Close()
	}
	return nil
}

// List returns the bucket ids with a backend, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close closes all backends
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.backends = make(map[string]types.Backend)
	m.configs = make(map[string]types.BackendConfig)
	return errors.Join(errs...)
}
