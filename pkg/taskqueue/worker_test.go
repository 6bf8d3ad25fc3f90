package taskqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
)

// testHandler implements Handler for testing
type testHandler struct {
	taskType taskqueue.TaskType
	handleFn func(ctx context.Context, task *taskqueue.Task) error
}

func (h *testHandler) Type() taskqueue.TaskType {
	return h.taskType
}

func (h *testHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, task)
	}
	return nil
}

func newWorker(q taskqueue.Queue, handlers ...taskqueue.Handler) *taskqueue.Worker {
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "test-worker",
		Queue:        q,
		PollInterval: 5 * time.Millisecond,
		Concurrency:  2,
	})
	for _, h := range handlers {
		w.RegisterHandler(h)
	}
	return w
}

func waitForStatus(t *testing.T, q taskqueue.Queue, id string, want taskqueue.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := q.Get(context.Background(), id)
		return err == nil && task.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWorker_HandlerTypes(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	w := newWorker(q,
		&testHandler{taskType: taskqueue.TaskTypeMetadataRestore},
		&testHandler{taskType: taskqueue.TaskTypeMetadataBackup},
		nil,
	)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskTypeMetadataBackup, taskqueue.TaskTypeMetadataRestore}, w.HandlerTypes())
	assert.Equal(t, taskqueue.Queue(q), w.Queue())
}

func TestWorker_ProcessesTasks(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	var handled atomic.Int32
	w := newWorker(q, &testHandler{
		taskType: taskqueue.TaskTypeMetadataBackup,
		handleFn: func(ctx context.Context, task *taskqueue.Task) error {
			handled.Add(1)
			return nil
		},
	})
	w.Start(ctx)
	defer w.Stop()

	var ids []string
	for i := 0; i < 3; i++ {
		task := &taskqueue.Task{Type: taskqueue.TaskTypeMetadataBackup, Payload: json.RawMessage(`{}`)}
		require.NoError(t, q.Enqueue(ctx, task))
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		waitForStatus(t, q, id, taskqueue.StatusCompleted)
	}
	assert.Equal(t, int32(3), handled.Load())
}

func TestWorker_FailureGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	w := newWorker(q, &testHandler{
		taskType: taskqueue.TaskTypeMetadataRestore,
		handleFn: func(context.Context, *taskqueue.Task) error { return errors.New("snapshot missing") },
	})
	w.Start(ctx)
	defer w.Stop()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeMetadataRestore, Payload: json.RawMessage(`{}`)}
	require.NoError(t, q.Enqueue(ctx, task))
	waitForStatus(t, q, task.ID, taskqueue.StatusDeadLetter)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "snapshot missing", got.LastError)
}

func TestWorker_RecoversPanics(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	w := newWorker(q, &testHandler{
		taskType: taskqueue.TaskTypeMetadataBackup,
		handleFn: func(context.Context, *taskqueue.Task) error { panic("nil bucket") },
	})
	w.Start(ctx)
	defer w.Stop()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeMetadataBackup, Payload: json.RawMessage(`{}`)}
	require.NoError(t, q.Enqueue(ctx, task))
	waitForStatus(t, q, task.ID, taskqueue.StatusDeadLetter)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "handler panicked: nil bucket")
}

func TestWorker_NoHandlersDoesNotStart(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	w := newWorker(q)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := newWorker(q, &testHandler{taskType: taskqueue.TaskTypeMetadataBackup})
	w.Start(ctx)
	cancel()
	w.Stop()
}
