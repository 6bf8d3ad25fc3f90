// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"io"
	"iter"
)

// StorageType identifies a storage backend implementation.
type StorageType string

const (
	StorageTypeFilesystem StorageType = "filesystem"
	StorageTypeMemory     StorageType = "memory"
	StorageTypeS3         StorageType = "s3"
)

// BackendConfig is the per-bucket storage section of the configuration.
type BackendConfig struct {
	Type      StorageType `mapstructure:"type" json:"type"`
	Path      string      `mapstructure:"path" json:"path,omitempty"`         // filesystem root
	Endpoint  string      `mapstructure:"endpoint" json:"endpoint,omitempty"` // S3-compatible endpoint
	Bucket    string      `mapstructure:"bucket" json:"bucket,omitempty"`     // S3 bucket
	Prefix    string      `mapstructure:"prefix" json:"prefix,omitempty"`     // S3 key prefix
	Region    string      `mapstructure:"region" json:"region,omitempty"`
	AccessKey string      `mapstructure:"access_key" json:"-"`
	SecretKey string      `mapstructure:"secret_key" json:"-"`
}

// Backend stores file bytes for buckets. Every key is namespaced by the internal
// bucket id, so two buckets sharing one backend never collide.
type Backend interface {
	Type() StorageType

	// SaveFile stores data for fileID, replacing existing bytes.
	SaveFile(ctx context.Context, bucketID, fileID string, data []byte) error

	// GetBinaryContent opens the bytes of fileID. Missing files return an error
	// wrapping backend.ErrFileNotFound.
	GetBinaryContent(ctx context.Context, bucketID, fileID string) (io.ReadCloser, error)

	// RemoveFile deletes fileID. Removing a missing file is not an error.
	RemoveFile(ctx context.Context, bucketID, fileID string) error

	// SumOfFileSizes returns the total stored bytes of a bucket.
	SumOfFileSizes(ctx context.Context, bucketID string) (int64, error)

	// NumberOfFiles returns how many files a bucket stores.
	NumberOfFiles(ctx context.Context, bucketID string) (int64, error)

	// ListFiles lazily yields the file ids of a bucket. Each call starts a new listing.
	ListFiles(ctx context.Context, bucketID string) iter.Seq2[string, error]

	Close() error
}
