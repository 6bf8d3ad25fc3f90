// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Snapshots are written once and read rarely, so the better mode is used.
func compressS2(data []byte) ([]byte, error) {
	return s2.EncodeBetter(nil, data), nil
}

func decompressS2(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("s2 decompress: %w", err)
	}
	return out, nil
}
