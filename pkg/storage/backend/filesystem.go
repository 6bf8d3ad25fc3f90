// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const (
	tempFilePrefix = ".tmp-"
	readDirBatch   = 256
)

func init() {
	Register(types.StorageTypeFilesystem, NewFilesystem)
}

// Filesystem stores each file at <path>/<bucketId>/<fileId>.
type Filesystem struct {
	basePath string
}

// NewFilesystem creates a filesystem backend
func NewFilesystem(cfg types.BackendConfig) (types.Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for filesystem backend")
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	return &Filesystem{basePath: cfg.Path}, nil
}

func (l *Filesystem) Type() types.StorageType {
	return types.StorageTypeFilesystem
}

// SaveFile writes to a temporary file and renames it into place, so readers never
// observe partial content.
func (l *Filesystem) SaveFile(ctx context.Context, bucketID, fileID string, data []byte) error {
	if err := validateIDs(bucketID, fileID); err != nil {
		return err
	}
	dir := filepath.Join(l.basePath, bucketID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bucket dir: %w", err)
	}

	f, err := os.CreateTemp(dir, tempFilePrefix+fileID+"-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write data: %w", err)
	}
	if err := Fdatasync(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync data: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, fileID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (l *Filesystem) GetBinaryContent(ctx context.Context, bucketID, fileID string) (io.ReadCloser, error) {
	if err := validateIDs(bucketID, fileID); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.basePath, bucketID, fileID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, bucketID, fileID)
		}
		return nil, err
	}
	return f, nil
}

func (l *Filesystem) RemoveFile(ctx context.Context, bucketID, fileID string) error {
	if err := validateIDs(bucketID, fileID); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.basePath, bucketID, fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil // Already gone
	}
	return err
}

func (l *Filesystem) SumOfFileSizes(ctx context.Context, bucketID string) (int64, error) {
	var total int64
	err := l.walk(ctx, bucketID, func(e fs.DirEntry) error {
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil // removed while listing
		}
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (l *Filesystem) NumberOfFiles(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	err := l.walk(ctx, bucketID, func(fs.DirEntry) error {
		n++
		return nil
	})
	return n, err
}

func (l *Filesystem) ListFiles(ctx context.Context, bucketID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stop := errors.New("stop")
		err := l.walk(ctx, bucketID, func(e fs.DirEntry) error {
			if !yield(e.Name(), nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield("", err)
		}
	}
}

// walk reads the bucket directory in batches and calls fn for every stored file,
// skipping temporaries and subdirectories. A missing directory is an empty bucket.
func (l *Filesystem) walk(ctx context.Context, bucketID string, fn func(fs.DirEntry) error) error {
	if err := validateIDs(bucketID); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Join(l.basePath, bucketID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer dir.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := dir.ReadDir(readDirBatch)
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), tempFilePrefix) {
				continue
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read bucket dir: %w", err)
		}
	}
}

func (l *Filesystem) Close() error {
	return nil
}
