package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/jobs"
)

// QueueConfig sizes the in-memory queue.
type QueueConfig struct {
	// BufferSize is how many tasks can wait before PublishImport blocks.
	BufferSize int
	// Workers is the number of concurrent handlers.
	Workers int
	// MaxRetries bounds re-deliveries of retryable failures.
	MaxRetries int
	// Backoff is multiplied by the retry count before re-delivery.
	Backoff time.Duration
}

// DefaultQueueConfig returns the settings used by the API server.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BufferSize: 100,
		Workers:    5,
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

// Queue is an in-memory implementation of task publisher and consumer.
// It uses Go channels for task distribution and is safe for concurrent use.
// Tasks are lost on restart; import jobs left pending or with an expired
// lease are picked up again by the worker poller.
type Queue struct {
	cfg       QueueConfig
	log       zerolog.Logger
	taskChan  chan *jobs.ImportTask
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewQueue creates a new in-memory task queue.
func NewQueue(cfg QueueConfig, log zerolog.Logger) *Queue {
	d := DefaultQueueConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = d.Backoff
	}
	return &Queue{
		cfg:       cfg,
		log:       log,
		taskChan:  make(chan *jobs.ImportTask, cfg.BufferSize),
		closeChan: make(chan struct{}),
	}
}

// PublishImport implements the Publisher interface.
func (q *Queue) PublishImport(ctx context.Context, task *jobs.ImportTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if task.ImportJobID == "" {
		return fmt.Errorf("import job ID is required")
	}

	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = jobs.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = q.cfg.MaxRetries
	}

	select {
	case q.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
func (q *Queue) Start(ctx context.Context, handler jobs.TaskHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.cfg.Workers).Msg("Import queue started")

	return nil
}

// worker processes tasks from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.TaskHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case task := <-q.taskChan:
			if task == nil {
				return
			}
			q.processTask(ctx, task, handler)
		}
	}
}

// processTask runs one task and schedules a re-delivery for retryable errors.
func (q *Queue) processTask(ctx context.Context, task *jobs.ImportTask, handler jobs.TaskHandler) {
	task.Status = jobs.TaskStatusRunning
	now := time.Now()
	task.StartedAt = &now

	err := q.safeHandle(ctx, task, handler)

	completedAt := time.Now()
	task.CompletedAt = &completedAt

	if err == nil {
		task.Status = jobs.TaskStatusCompleted
		task.Error = ""
		return
	}

	task.Error = err.Error()
	var retryable *jobs.RetryableError
	if !errors.As(err, &retryable) || task.RetryCount >= task.MaxRetries {
		task.Status = jobs.TaskStatusFailed
		q.log.Error().Err(err).
			Str("task_id", task.TaskID).
			Str("import_job_id", task.ImportJobID).
			Int("retry_count", task.RetryCount).
			Msg("Import task failed")
		return
	}

	task.RetryCount++
	task.Status = jobs.TaskStatusRetrying
	backoff := time.Duration(task.RetryCount) * q.cfg.Backoff
	q.log.Warn().Err(err).
		Str("task_id", task.TaskID).
		Str("import_job_id", task.ImportJobID).
		Dur("backoff", backoff).
		Msg("Import task will be retried")

	time.AfterFunc(backoff, func() {
		task.Status = jobs.TaskStatusPending
		task.StartedAt = nil
		task.CompletedAt = nil
		if err := q.PublishImport(ctx, task); err != nil {
			q.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("Failed to re-enqueue import task")
		}
	})
}

// safeHandle turns a handler panic into an error so one bad job cannot kill a worker.
func (q *Queue) safeHandle(ctx context.Context, task *jobs.ImportTask, handler jobs.TaskHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in import task %s: %v", task.TaskID, r)
		}
	}()
	return handler(ctx, task)
}

// Stop implements the Consumer interface.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
