// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression compresses metadata snapshot artifacts. The algorithm is
// recorded in the artifact's file extension so a snapshot stays readable after
// the configured algorithm changes.
package compression

import (
	"fmt"
	"strings"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None stores the artifact as is
	None Algorithm = "none"
	// LZ4 is the fastest option, at a moderate ratio
	LZ4 Algorithm = "lz4"
	// ZSTD is the default: balanced speed and ratio
	ZSTD Algorithm = "zstd"
	// S2 is klauspost's Snappy extension
	S2 Algorithm = "s2"
)

var extensions = map[Algorithm]string{
	None: "",
	LZ4:  ".lz4",
	ZSTD: ".zst",
	S2:   ".s2",
}

// IsValid returns true if the algorithm is recognized
func (a Algorithm) IsValid() bool {
	_, ok := extensions[a]
	return ok
}

func (a Algorithm) String() string {
	return string(a)
}

// Extension is the file suffix artifacts compressed with a carry.
func (a Algorithm) Extension() string {
	return extensions[a]
}

// ParseAlgorithm parses a configured algorithm name. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	algo := Algorithm(s)
	if !algo.IsValid() {
		return None, fmt.Errorf("unknown compression %q (want none, zstd, s2 or lz4)", s)
	}
	return algo, nil
}

// FromName returns the algorithm implied by a file name's extension, or None.
func FromName(name string) Algorithm {
	for algo, ext := range extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return algo
		}
	}
	return None
}
