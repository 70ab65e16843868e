// Package repository declares the persistence contracts shared by the
// in-memory, BigQuery and Postgres backends.
package repository

import (
	"context"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// ImportJobRepository provides an interface for import-job persistence.
type ImportJobRepository interface {
	// CreateJob inserts a new job. The job must carry an ID.
	CreateJob(ctx context.Context, job *domain.ImportJob) error

	// GetJob retrieves a job by ID, or domain.ErrNotFound.
	GetJob(ctx context.Context, id string) (*domain.ImportJob, error)

	// ListJobs retrieves jobs newest first with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.ImportJob, error)

	// ClaimJob atomically moves a job into processing and stamps a lease
	// ending at leaseUntil. A job already processing under a live lease
	// yields domain.ErrAlreadyProcessing; a processing job whose lease has
	// expired is reclaimed only if StatusProcessing is listed in from.
	// Any other status outside from yields a *domain.TransitionError.
	ClaimJob(ctx context.Context, id string, from []domain.ImportStatus, leaseUntil, now time.Time) (*domain.ImportJob, error)

	// UpdateJob overwrites the stored job. The write is rejected with a
	// *domain.TransitionError when the stored status cannot move to job.Status.
	UpdateJob(ctx context.Context, job *domain.ImportJob) error

	// SaveCandidates replaces the candidates held for review.
	SaveCandidates(ctx context.Context, jobID string, candidates []domain.CandidateTransaction) error

	// LoadCandidates returns the candidates held for review.
	LoadCandidates(ctx context.Context, jobID string) ([]domain.CandidateTransaction, error)

	// SaveChunkCheckpoint stores provider output for one chunk.
	SaveChunkCheckpoint(ctx context.Context, jobID string, cp domain.ChunkCheckpoint) error

	// LoadChunkCheckpoints returns every checkpoint saved for a job.
	LoadChunkCheckpoints(ctx context.Context, jobID string) ([]domain.ChunkCheckpoint, error)
}

// TransactionRepository provides an interface for committed transactions.
type TransactionRepository interface {
	// ListTransactionKeys returns the (reference, date) pairs already stored
	// for an account. Rows without a reference are omitted.
	ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error)

	// InsertTransactions inserts rows one by one. The returned slice has one
	// entry per row; a nil entry means the row was stored. A violated
	// (account, reference, date) uniqueness yields domain.ErrDuplicateTransaction.
	InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error
}

// Store bundles both repositories; every backend implements it.
type Store interface {
	ImportJobRepository
	TransactionRepository
	Close() error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by owner.
	UserID string

	// AccountID filters jobs by target account.
	AccountID string

	// Status filters jobs by status.
	Status domain.ImportStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ResumableFilter selects jobs a poller should trigger: pending jobs plus
// processing jobs whose lease has expired before now.
type ResumableFilter struct {
	Now   time.Time
	Limit int
}

// ResumableLister is implemented by stores that can find work for a poller.
type ResumableLister interface {
	ListResumable(ctx context.Context, filter ResumableFilter) ([]*domain.ImportJob, error)
}

// ClaimAllowed applies the ClaimJob rules to a loaded job. Backends that
// cannot express the whole rule in one statement use it after reading.
func ClaimAllowed(job *domain.ImportJob, from []domain.ImportStatus, now time.Time) error {
	if job.LeaseActive(now) {
		return domain.ErrAlreadyProcessing
	}
	for _, s := range from {
		if job.Status == s {
			return nil
		}
	}
	return &domain.TransitionError{From: job.Status, To: domain.StatusProcessing}
}
