package taskqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface verification
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process Queue. Tasks do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
	now    func() time.Time
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := q.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	q.tasks[task.ID] = task.clone()

	tasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now()
	var best *Task
	for _, task := range q.tasks {
		if task.Status != StatusPending || task.ScheduledAt.After(now) {
			continue
		}
		if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}

		// Highest priority first, then oldest
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.WorkerID = workerID
	started := now
	best.StartedAt = &started
	best.UpdatedAt = now
	return best.clone(), nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	return q.update(taskID, func(task *Task, now time.Time) {
		task.Status = StatusCompleted
		task.CompletedAt = &now
	})
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	return q.update(taskID, func(task *Task, now time.Time) {
		task.Attempts++
		task.LastError = err.Error()

		if task.Attempts > task.MaxRetries {
			task.Status = StatusDeadLetter
			task.CompletedAt = &now
			return
		}
		// Exponential backoff: 2s, 4s, 8s...
		task.RetryAfter = now.Add(time.Duration(1<<task.Attempts) * time.Second)
		task.Status = StatusPending
		task.WorkerID = ""
		taskRetries.WithLabelValues(string(task.Type)).Inc()
	})
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	return q.update(taskID, func(task *Task, now time.Time) {
		task.Status = StatusCancelled
		task.CompletedAt = &now
	})
}

func (q *MemoryQueue) update(taskID string, fn func(*Task, time.Time)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := q.now()
	fn(task, now)
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, task.clone())
	}
	slices.SortFunc(result, func(a, b *Task) int { return a.CreatedAt.Compare(b.CreatedAt) })

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				oldest := task.ScheduledAt
				stats.OldestPending = &oldest
			}
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		case StatusCancelled:
			stats.Cancelled++
		}
		stats.ByType[task.Type]++
	}

	queueDepth.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	queueDepth.WithLabelValues(string(StatusRunning)).Set(float64(stats.Running))
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		switch task.Status {
		case StatusCompleted, StatusCancelled, StatusDeadLetter:
			if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
				delete(q.tasks, id)
				count++
			}
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
