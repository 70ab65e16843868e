package jobs

import (
	"context"
	"time"
)

// TaskType represents the type of task to be executed.
type TaskType string

const (
	// TaskTypeRunImport runs the extraction pipeline for one import job.
	TaskTypeRunImport TaskType = "run_import"
)

// TaskStatus represents the current status of a queued task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be processed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is currently being processed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the handler returned without error.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed and will not be retried.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusRetrying indicates the task failed and is being retried.
	TaskStatusRetrying TaskStatus = "retrying"
)

// ImportTask asks a worker to run the pipeline for an import job. The
// import job record itself is the durable state; the task only carries
// delivery bookkeeping.
type ImportTask struct {
	// TaskID is the unique identifier for this delivery.
	TaskID string `json:"task_id"`

	// ImportJobID is the ID of the import job to run.
	ImportJobID string `json:"import_job_id"`

	// Status is the current status of the task.
	Status TaskStatus `json:"status"`

	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when a worker picked the task up.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the handler returned.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains the last handler error.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Task is a generic interface for all task types.
type Task interface {
	GetID() string
	GetType() TaskType
	GetStatus() TaskStatus
}

// GetID implements the Task interface.
func (t *ImportTask) GetID() string {
	return t.TaskID
}

// GetType implements the Task interface.
func (t *ImportTask) GetType() TaskType {
	return TaskTypeRunImport
}

// GetStatus implements the Task interface.
func (t *ImportTask) GetStatus() TaskStatus {
	return t.Status
}

// Publisher defines the interface for publishing tasks to a queue.
type Publisher interface {
	// PublishImport enqueues a pipeline run for an import job.
	PublishImport(ctx context.Context, task *ImportTask) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming tasks from a queue.
type Consumer interface {
	// Start begins consuming tasks. The handler is called for each task.
	Start(ctx context.Context, handler TaskHandler) error

	// Stop stops consuming and waits for in-flight tasks to complete.
	Stop(ctx context.Context) error
}

// TaskHandler processes a task. A returned error is retried when
// Retryable reports true for it and retries remain.
type TaskHandler func(ctx context.Context, task *ImportTask) error

// RetryableError marks a handler error as safe to retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the queue re-delivers the task.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
