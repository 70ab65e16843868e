// Package bigquery stores import jobs, review candidates, chunk checkpoints
// and committed transactions in BigQuery.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/repository"
)

// Dataset names the project and dataset holding the import tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the fully qualified, quoted table name.
func (d Dataset) Table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, name)
}

// Store is the BigQuery implementation of repository.Store. It holds a
// shared client to avoid creating a new connection for each operation.
type Store struct {
	client *bigquery.Client
	ds     Dataset
}

// NewStore creates a store with its own client.
func NewStore(ctx context.Context, ds Dataset) (*Store, error) {
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, ds), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *bigquery.Client, ds Dataset) *Store {
	return &Store{client: client, ds: ds}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// CreateJob delegates to CreateJobWithClient.
func (s *Store) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	return CreateJobWithClient(ctx, s.client, s.ds, job)
}

// GetJob delegates to GetJobWithClient.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	return GetJobWithClient(ctx, s.client, s.ds, id)
}

// ListJobs delegates to ListJobsWithClient.
func (s *Store) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*domain.ImportJob, error) {
	return ListJobsWithClient(ctx, s.client, s.ds, filter)
}

// ListResumable delegates to ListResumableWithClient.
func (s *Store) ListResumable(ctx context.Context, filter repository.ResumableFilter) ([]*domain.ImportJob, error) {
	return ListResumableWithClient(ctx, s.client, s.ds, filter)
}

// ClaimJob delegates to ClaimJobWithClient.
func (s *Store) ClaimJob(ctx context.Context, id string, from []domain.ImportStatus, leaseUntil, now time.Time) (*domain.ImportJob, error) {
	return ClaimJobWithClient(ctx, s.client, s.ds, id, from, leaseUntil, now)
}

// UpdateJob delegates to UpdateJobWithClient.
func (s *Store) UpdateJob(ctx context.Context, job *domain.ImportJob) error {
	return UpdateJobWithClient(ctx, s.client, s.ds, job)
}

// SaveCandidates delegates to SaveCandidatesWithClient.
func (s *Store) SaveCandidates(ctx context.Context, jobID string, candidates []domain.CandidateTransaction) error {
	return SaveCandidatesWithClient(ctx, s.client, s.ds, jobID, candidates)
}

// LoadCandidates delegates to LoadCandidatesWithClient.
func (s *Store) LoadCandidates(ctx context.Context, jobID string) ([]domain.CandidateTransaction, error) {
	return LoadCandidatesWithClient(ctx, s.client, s.ds, jobID)
}

// SaveChunkCheckpoint delegates to SaveChunkCheckpointWithClient.
func (s *Store) SaveChunkCheckpoint(ctx context.Context, jobID string, cp domain.ChunkCheckpoint) error {
	return SaveChunkCheckpointWithClient(ctx, s.client, s.ds, jobID, cp)
}

// LoadChunkCheckpoints delegates to LoadChunkCheckpointsWithClient.
func (s *Store) LoadChunkCheckpoints(ctx context.Context, jobID string) ([]domain.ChunkCheckpoint, error) {
	return LoadChunkCheckpointsWithClient(ctx, s.client, s.ds, jobID)
}

// ListTransactionKeys delegates to ListTransactionKeysWithClient.
func (s *Store) ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
	return ListTransactionKeysWithClient(ctx, s.client, s.ds, accountID)
}

// InsertTransactions delegates to InsertTransactionsWithClient.
func (s *Store) InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error {
	return InsertTransactionsWithClient(ctx, s.client, s.ds, rows)
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.ResumableLister = (*Store)(nil)
)
