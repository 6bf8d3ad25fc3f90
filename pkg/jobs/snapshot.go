// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/sha256-simd"

	"github.com/LeeDigitalWorks/blobgate/pkg/compression"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const snapshotVersion = 1

// Snapshot is the serialized form of a bucket's metadata rows.
type Snapshot struct {
	Version   int              `json:"version"`
	BucketID  string           `json:"internalBucketId"`
	JobID     string           `json:"jobId"`
	CreatedAt time.Time        `json:"createdAt"`
	Files     []types.FileData `json:"files"`
}

// TotalBytes sums the sizes of the snapshot's files.
func (s *Snapshot) TotalBytes() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.FileSize
	}
	return n
}

// takeSnapshot collects every metadata row of a bucket.
func takeSnapshot(ctx context.Context, store db.FileStore, bucketID, jobID string, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Version:   snapshotVersion,
		BucketID:  bucketID,
		JobID:     jobID,
		CreatedAt: now,
		Files:     []types.FileData{},
	}
	for f, err := range db.IterFiles(ctx, store, db.ListFilesParams{BucketID: bucketID}) {
		if err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, *f)
	}
	return snap, nil
}

// artifactName is the storage file id of a backup artifact.
func artifactName(jobID string, algo compression.Algorithm) string {
	return jobID + ".json" + algo.Extension()
}

// fileRef joins the bucket id and artifact name into the reference stored on the job.
func fileRef(bucketID, name string) string {
	return bucketID + "/" + name
}

// splitFileRef is the inverse of fileRef.
func splitFileRef(ref string) (bucketID, name string, err error) {
	bucketID, name, ok := strings.Cut(ref, "/")
	if !ok || bucketID == "" || name == "" {
		return "", "", fmt.Errorf("malformed backup file reference %q", ref)
	}
	return bucketID, name, nil
}

// encodeSnapshot serializes and compresses snap and returns the artifact with its
// hex sha256.
func encodeSnapshot(snap *Snapshot, algo compression.Algorithm) ([]byte, string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	data, err := compression.Compress(algo, raw)
	if err != nil {
		return nil, "", err
	}
	return data, hashBytes(data), nil
}

// decodeSnapshot decompresses an artifact with the algorithm its name implies.
func decodeSnapshot(name string, data []byte) (*Snapshot, error) {
	raw, err := compression.Decompress(compression.FromName(name), data)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readAll(ctx context.Context, be types.Backend, bucketID, name string) ([]byte, error) {
	rc, err := be.GetBinaryContent(ctx, bucketID, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
