package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-importer/internal/dedup"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/repository"
)

// Store is an in-memory implementation of repository.Store.
// It is safe for concurrent use and returns copies, never shared pointers.
// Data is lost on restart; use the BigQuery or Postgres backends for persistence.
type Store struct {
	mu           sync.RWMutex
	jobs         map[string]*domain.ImportJob
	candidates   map[string][]domain.CandidateTransaction
	checkpoints  map[string]map[int]domain.ChunkCheckpoint
	transactions []*domain.PersistedTransaction
	keys         map[dedup.Key]bool
	ids          map[string]bool
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]*domain.ImportJob),
		candidates:  make(map[string][]domain.CandidateTransaction),
		checkpoints: make(map[string]map[int]domain.ChunkCheckpoint),
		keys:        make(map[dedup.Key]bool),
		ids:         make(map[string]bool),
	}
}

// Close implements repository.Store.
func (s *Store) Close() error { return nil }

// CreateJob implements repository.ImportJobRepository.
func (s *Store) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	if job.ID == "" {
		return fmt.Errorf("CreateJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("CreateJob: job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob implements repository.ImportJobRepository.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("GetJob: job %s: %w", id, domain.ErrNotFound)
	}
	return job.Clone(), nil
}

// ListJobs implements repository.ImportJobRepository.
func (s *Store) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ImportJob
	for _, job := range s.jobs {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.AccountID != "" && job.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*domain.ImportJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListResumable implements repository.ResumableLister.
func (s *Store) ListResumable(ctx context.Context, filter repository.ResumableFilter) ([]*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ImportJob
	for _, job := range s.jobs {
		switch {
		case job.Status == domain.StatusPending:
		case job.Status == domain.StatusProcessing && !job.LeaseActive(filter.Now):
		default:
			continue
		}
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ClaimJob implements repository.ImportJobRepository.
func (s *Store) ClaimJob(ctx context.Context, id string, from []domain.ImportStatus, leaseUntil, now time.Time) (*domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("ClaimJob: job %s: %w", id, domain.ErrNotFound)
	}
	if err := repository.ClaimAllowed(job, from, now); err != nil {
		return nil, fmt.Errorf("ClaimJob: job %s: %w", id, err)
	}

	job.Status = domain.StatusProcessing
	lease := leaseUntil
	job.LeaseExpiresAt = &lease
	job.Attempts++
	job.UpdatedAt = now
	return job.Clone(), nil
}

// UpdateJob implements repository.ImportJobRepository.
func (s *Store) UpdateJob(ctx context.Context, job *domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.jobs[job.ID]
	if !exists {
		return fmt.Errorf("UpdateJob: job %s: %w", job.ID, domain.ErrNotFound)
	}
	if stored.Status != job.Status && !domain.CanTransition(stored.Status, job.Status) {
		return fmt.Errorf("UpdateJob: job %s: %w", job.ID, &domain.TransitionError{From: stored.Status, To: job.Status})
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// SaveCandidates implements repository.ImportJobRepository.
func (s *Store) SaveCandidates(ctx context.Context, jobID string, candidates []domain.CandidateTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("SaveCandidates: job %s: %w", jobID, domain.ErrNotFound)
	}
	s.candidates[jobID] = append([]domain.CandidateTransaction(nil), candidates...)
	return nil
}

// LoadCandidates implements repository.ImportJobRepository.
func (s *Store) LoadCandidates(ctx context.Context, jobID string) ([]domain.CandidateTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.jobs[jobID]; !exists {
		return nil, fmt.Errorf("LoadCandidates: job %s: %w", jobID, domain.ErrNotFound)
	}
	return append([]domain.CandidateTransaction(nil), s.candidates[jobID]...), nil
}

// SaveChunkCheckpoint implements repository.ImportJobRepository.
func (s *Store) SaveChunkCheckpoint(ctx context.Context, jobID string, cp domain.ChunkCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[jobID] == nil {
		s.checkpoints[jobID] = make(map[int]domain.ChunkCheckpoint)
	}
	cp.Transactions = append([]domain.CandidateTransaction(nil), cp.Transactions...)
	s.checkpoints[jobID][cp.ChunkIndex] = cp
	return nil
}

// LoadChunkCheckpoints implements repository.ImportJobRepository.
func (s *Store) LoadChunkCheckpoints(ctx context.Context, jobID string) ([]domain.ChunkCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChunkCheckpoint, 0, len(s.checkpoints[jobID]))
	for _, cp := range s.checkpoints[jobID] {
		cp.Transactions = append([]domain.CandidateTransaction(nil), cp.Transactions...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// ListTransactionKeys implements repository.TransactionRepository.
func (s *Store) ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TransactionKey
	for _, tx := range s.transactions {
		if tx.AccountID != accountID || tx.Reference == nil || *tx.Reference == "" {
			continue
		}
		out = append(out, domain.TransactionKey{Reference: *tx.Reference, Date: tx.Date})
	}
	return out, nil
}

// InsertTransactions implements repository.TransactionRepository.
func (s *Store) InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make([]error, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		if s.ids[row.ID] {
			errs[i] = fmt.Errorf("InsertTransactions: row %d: %w", i, domain.ErrTransactionExists)
			continue
		}
		if row.Reference != nil {
			if key, ok := dedup.NewKey(row.AccountID, *row.Reference, row.Date); ok {
				if s.keys[key] {
					errs[i] = fmt.Errorf("InsertTransactions: row %d: %w", i, domain.ErrDuplicateTransaction)
					continue
				}
				s.keys[key] = true
			}
		}
		s.ids[row.ID] = true
		c := *row
		s.transactions = append(s.transactions, &c)
	}
	return errs
}

// Transactions returns a copy of every committed row.
func (s *Store) Transactions() []domain.PersistedTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PersistedTransaction, len(s.transactions))
	for i, tx := range s.transactions {
		out[i] = *tx
	}
	return out
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.ResumableLister = (*Store)(nil)
)
