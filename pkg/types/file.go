// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// FileData is the metadata half of a stored file. The bytes live in the bucket's
// backend under (BucketID, ID).
//
// FileData is a value object: services hand out copies, and a caller that wants a
// changed version builds one with Clone and passes it back.
type FileData struct {
	ID           string          `json:"identifier"`
	Prefix       string          `json:"prefix"`
	FileName     string          `json:"fileName"`
	BucketID     string          `json:"internalBucketId"`
	DateCreated  time.Time       `json:"dateCreated"`
	DateModified time.Time       `json:"dateModified"`
	LastAccess   time.Time       `json:"lastAccess"`
	DeleteAt     *time.Time      `json:"deleteAt,omitempty"`
	FileSize     int64           `json:"fileSize"`
	MimeType     string          `json:"mimeType"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Type         string          `json:"type,omitempty"`
	FileHash     string          `json:"fileHash,omitempty"`
	MetadataHash string          `json:"metadataHash,omitempty"`
	NotifyEmail  string          `json:"notifyEmail,omitempty"`

	// Content is only populated when a read asked for it; it is never persisted.
	Content []byte `json:"-"`
}

// Clone returns a deep copy.
func (f FileData) Clone() FileData {
	c := f
	if f.DeleteAt != nil {
		d := *f.DeleteAt
		c.DeleteAt = &d
	}
	if f.Metadata != nil {
		c.Metadata = bytes.Clone(f.Metadata)
	}
	if f.Content != nil {
		c.Content = bytes.Clone(f.Content)
	}
	return c
}

// ExpiredAt reports whether the file is past its deleteAt at now.
func (f FileData) ExpiredAt(now time.Time) bool {
	return f.DeleteAt != nil && !f.DeleteAt.After(now)
}

// Path returns prefix/fileName for display.
func (f FileData) Path() string {
	if f.Prefix == "" {
		return f.FileName
	}
	return f.Prefix + "/" + f.FileName
}
