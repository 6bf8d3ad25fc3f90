// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"io"

	"github.com/minio/sha256-simd"
)

// ContentHash is the fileHash stored for content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// MetadataHash is the metadataHash stored for metadata. Absent metadata has no hash.
func MetadataHash(metadata []byte) string {
	if len(metadata) == 0 {
		return ""
	}
	return ContentHash(metadata)
}

// HashReader returns the ContentHash of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
