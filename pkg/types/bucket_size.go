// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "net/http"

// BucketSize is the incrementally maintained byte total of one bucket.
type BucketSize struct {
	BucketID          string `json:"identifier"`
	CurrentBucketSize int64  `json:"currentBucketSize"`
}

// BucketLock gates which request methods a bucket currently accepts.
type BucketLock struct {
	ID         string `json:"identifier"`
	BucketID   string `json:"internalBucketId"`
	GetLock    bool   `json:"getLock"`
	PostLock   bool   `json:"postLock"`
	PatchLock  bool   `json:"patchLock"`
	DeleteLock bool   `json:"deleteLock"`
}

// Locks reports whether method is currently blocked. HEAD follows GET; unknown methods
// are never locked.
func (l BucketLock) Locks(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return l.GetLock
	case http.MethodPost, http.MethodPut:
		return l.PostLock
	case http.MethodPatch:
		return l.PatchLock
	case http.MethodDelete:
		return l.DeleteLock
	default:
		return false
	}
}
