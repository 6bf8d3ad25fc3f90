// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"time"
)

// Compress compresses data using the specified algorithm.
func Compress(algo Algorithm, data []byte) ([]byte, error) {
	start := time.Now()

	var out []byte
	var err error
	switch algo {
	case None, "":
		return data, nil
	case LZ4:
		out, err = compressLZ4(data)
	case ZSTD:
		out, err = compressZSTD(data)
	case S2:
		out, err = compressS2(data)
	default:
		return nil, fmt.Errorf("unknown compression %q", algo)
	}
	if err != nil {
		return nil, err
	}

	observe(algo, "compress", start, len(data), len(out))
	return out, nil
}

// Decompress decompresses data using the specified algorithm.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	start := time.Now()

	var out []byte
	var err error
	switch algo {
	case None, "":
		return data, nil
	case LZ4:
		out, err = decompressLZ4(data)
	case ZSTD:
		out, err = decompressZSTD(data)
	case S2:
		out, err = decompressS2(data)
	default:
		return nil, fmt.Errorf("unknown compression %q", algo)
	}
	if err != nil {
		return nil, err
	}

	observe(algo, "decompress", start, len(data), len(out))
	return out, nil
}

// Ratio is original / compressed, or 1 when compression did not help.
func Ratio(originalSize, compressedSize int) float64 {
	if compressedSize <= 0 || compressedSize >= originalSize {
		return 1.0
	}
	return float64(originalSize) / float64(compressedSize)
}
