package taskqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Queue defines the interface for task queue operations.
type Queue interface {
	// Enqueue adds a task to the queue. ID, status and timestamps are filled in
	// when unset.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the next runnable task for workerID, or returns nil when
	// none is ready.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	// Complete marks a task as successfully completed.
	Complete(ctx context.Context, taskID string) error

	// Fail records err. The task is requeued with backoff while retries remain,
	// otherwise it moves to the dead letter state.
	Fail(ctx context.Context, taskID string, err error) error

	// Cancel marks a task as cancelled.
	Cancel(ctx context.Context, taskID string) error

	// Get returns a copy of a task.
	Get(ctx context.Context, taskID string) (*Task, error)

	// List returns copies of the tasks matching the filter, oldest first.
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)

	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup removes finished tasks older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes tasks of a specific type.
type Handler interface {
	// Type returns the task type this handler processes.
	Type() TaskType

	// Handle processes the task and returns an error if it failed.
	Handle(ctx context.Context, task *Task) error
}
