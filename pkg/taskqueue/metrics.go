package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
)

var (
	factory = promauto.With(debug.Registry())

	tasksProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "tasks_processed_total",
		Help:      "Total number of tasks processed",
	}, []string{"type", "status"}) // status: "completed", "failed", "no_handler"

	taskDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "task_processing_duration_seconds",
		Help:      "Time spent processing tasks",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"type"})

	tasksEnqueued = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "tasks_enqueued_total",
		Help:      "Total number of tasks enqueued",
	}, []string{"type"})

	taskRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "task_retries_total",
		Help:      "Total number of task retries",
	}, []string{"type"})

	queueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "queue_depth",
		Help:      "Current number of tasks in queue by status",
	}, []string{"status"})

	workersActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "workers_active",
		Help:      "Number of worker goroutines currently handling a task",
	})

	dequeueErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "blobgate",
		Subsystem: "taskqueue",
		Name:      "dequeue_errors_total",
		Help:      "Total number of dequeue errors",
	})
)
