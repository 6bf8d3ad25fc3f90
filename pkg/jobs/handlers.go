// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// JobPayload is the task payload of queued backup and restore jobs.
type JobPayload struct {
	JobID string `json:"job_id"`
}

// EnqueueBackup creates a RUNNING backup job and queues it for a worker.
func (e *Engine) EnqueueBackup(ctx context.Context, bucketID string) (types.Job, error) {
	if e.queue == nil {
		return types.Job{}, errNoQueue
	}
	j, err := e.StartBackup(ctx, bucketID)
	if err != nil {
		return types.Job{}, err
	}
	return j, e.enqueue(ctx, taskqueue.TaskTypeMetadataBackup, j)
}

// EnqueueRestore creates a RUNNING restore job and queues it for a worker.
func (e *Engine) EnqueueRestore(ctx context.Context, backupJobID string) (types.Job, error) {
	if e.queue == nil {
		return types.Job{}, errNoQueue
	}
	j, err := e.StartRestore(ctx, backupJobID)
	if err != nil {
		return types.Job{}, err
	}
	return j, e.enqueue(ctx, taskqueue.TaskTypeMetadataRestore, j)
}

var errNoQueue = apierr.Internal("blob:job-queue-not-configured", nil, "no task queue configured")

// enqueue queues j. A job that cannot be queued would stay RUNNING forever, so
// it is marked ERROR instead.
func (e *Engine) enqueue(ctx context.Context, typ taskqueue.TaskType, j types.Job) error {
	payload, err := taskqueue.MarshalPayload(JobPayload{JobID: j.ID})
	if err == nil {
		err = e.queue.Enqueue(ctx, &taskqueue.Task{
			Type:     typ,
			Priority: taskqueue.PriorityNormal,
			Payload:  payload,
		})
	}
	if err == nil {
		return nil
	}

	err = apierr.Internal("blob:job-enqueue-failed", err, "queue %s job %s", j.Kind, j.ID)
	_, _, _ = e.finish(ctx, j, err, nil)
	return err
}

// Handlers returns the task handlers that run queued jobs.
func (e *Engine) Handlers() []taskqueue.Handler {
	return []taskqueue.Handler{
		&handler{typ: taskqueue.TaskTypeMetadataBackup, run: e.RunBackup},
		&handler{typ: taskqueue.TaskTypeMetadataRestore, run: e.RunRestore},
	}
}

type handler struct {
	typ taskqueue.TaskType
	run func(ctx context.Context, jobID string) (types.Job, error)
}

func (h *handler) Type() taskqueue.TaskType {
	return h.typ
}

func (h *handler) Handle(ctx context.Context, task *taskqueue.Task) error {
	p, err := taskqueue.UnmarshalPayload[JobPayload](task.Payload)
	if err != nil || p.JobID == "" {
		return fmt.Errorf("%w: %s task %s", taskqueue.ErrInvalidPayload, h.typ, task.ID)
	}
	_, err = h.run(ctx, p.JobID)
	return err
}
