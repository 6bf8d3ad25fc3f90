// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// JobKind distinguishes metadata backup jobs from restore jobs.
type JobKind string

const (
	JobKindBackup  JobKind = "backup"
	JobKindRestore JobKind = "restore"
)

// JobStatus is the state of a backup or restore job. A job is created RUNNING and
// moves to exactly one terminal status.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusError     JobStatus = "ERROR"
	JobStatusFinished  JobStatus = "FINISHED"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCancelled || s == JobStatusError || s == JobStatusFinished
}

// Job is a metadata backup or restore attempt.
type Job struct {
	ID           string     `json:"identifier"`
	Kind         JobKind    `json:"kind"`
	Status       JobStatus  `json:"status"`
	BucketID     string     `json:"bucketId"`
	Started      time.Time  `json:"started"`
	Finished     *time.Time `json:"finished,omitempty"`
	ErrorID      string     `json:"errorId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Hash         string     `json:"hash,omitempty"`
	FileRef      string     `json:"fileRef,omitempty"`      // backup only
	BackupJobID  string     `json:"backupJobId,omitempty"`  // restore only
	FileCount    int64      `json:"fileCount"`
	TotalBytes   int64      `json:"totalBytes"`
}

// Clone returns a copy that does not share the Finished pointer.
func (j Job) Clone() Job {
	c := j
	if j.Finished != nil {
		f := *j.Finished
		c.Finished = &f
	}
	return c
}

// ISO8601 is the layout used when jobs are printed or exported.
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"
