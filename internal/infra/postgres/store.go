package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/statement-importer/internal/dedup"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/repository"
)

const (
	uniqueViolation        = "23505"
	transactionsPrimaryKey = "transactions_pkey"
)

// Store is the PostgreSQL implementation of repository.Store.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewStore wraps an open pool. Close releases it.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// CreateJob implements repository.ImportJobRepository.
func (s *Store) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	q, err := insertJobQuery(job)
	if err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("CreateJob: build query: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// GetJob implements repository.ImportJobRepository.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	sql, args, err := psql.Select(jobColumns...).From(jobsTable).Where("id = ?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("GetJob: build query: %w", err)
	}
	job, err := scanJob(s.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetJob: job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	return job, nil
}

// ListJobs implements repository.ImportJobRepository.
func (s *Store) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*domain.ImportJob, error) {
	sql, args, err := selectJobsQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListJobs: build query: %w", err)
	}
	jobs, err := s.queryJobs(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	return jobs, nil
}

// ListResumable implements repository.ResumableLister.
func (s *Store) ListResumable(ctx context.Context, filter repository.ResumableFilter) ([]*domain.ImportJob, error) {
	sql, args, err := resumableQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListResumable: build query: %w", err)
	}
	jobs, err := s.queryJobs(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("ListResumable: %w", err)
	}
	return jobs, nil
}

// ClaimJob implements repository.ImportJobRepository with a conditional
// UPDATE ... RETURNING, so two claimants can never both win.
func (s *Store) ClaimJob(ctx context.Context, id string, from []domain.ImportStatus, leaseUntil, now time.Time) (*domain.ImportJob, error) {
	sql, args, err := claimQuery(id, from, leaseUntil, now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ClaimJob: build query: %w", err)
	}

	job, err := scanJob(s.db.QueryRow(ctx, sql, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ClaimJob: %w", err)
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ClaimJob: %w", err)
	}
	if err := repository.ClaimAllowed(current, from, now); err != nil {
		return nil, fmt.Errorf("ClaimJob: job %s: %w", id, err)
	}
	return nil, fmt.Errorf("ClaimJob: job %s: %w", id, domain.ErrAlreadyProcessing)
}

// UpdateJob implements repository.ImportJobRepository.
func (s *Store) UpdateJob(ctx context.Context, job *domain.ImportJob) error {
	q, err := updateJobQuery(job)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("UpdateJob: build query: %w", err)
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	stored, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	return fmt.Errorf("UpdateJob: job %s: %w", job.ID, &domain.TransitionError{From: stored.Status, To: job.Status})
}

// SaveCandidates implements repository.ImportJobRepository.
func (s *Store) SaveCandidates(ctx context.Context, jobID string, candidates []domain.CandidateTransaction) error {
	if candidates == nil {
		candidates = []domain.CandidateTransaction{}
	}
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("SaveCandidates: marshal: %w", err)
	}
	sql, args, err := upsertCandidatesQuery(jobID, payload, s.now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("SaveCandidates: build query: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("SaveCandidates: %w", err)
	}
	return nil
}

// LoadCandidates implements repository.ImportJobRepository.
func (s *Store) LoadCandidates(ctx context.Context, jobID string) ([]domain.CandidateTransaction, error) {
	sql, args, err := psql.Select("payload").From(candidatesTable).Where("job_id = ?", jobID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("LoadCandidates: build query: %w", err)
	}

	var payload []byte
	err = s.db.QueryRow(ctx, sql, args...).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadCandidates: %w", err)
	}

	var out []domain.CandidateTransaction
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("LoadCandidates: job %s: %w", jobID, err)
	}
	return out, nil
}

// SaveChunkCheckpoint implements repository.ImportJobRepository.
func (s *Store) SaveChunkCheckpoint(ctx context.Context, jobID string, cp domain.ChunkCheckpoint) error {
	txs := cp.Transactions
	if txs == nil {
		txs = []domain.CandidateTransaction{}
	}
	payload, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("SaveChunkCheckpoint: marshal: %w", err)
	}
	sql, args, err := upsertCheckpointQuery(jobID, cp, payload).ToSql()
	if err != nil {
		return fmt.Errorf("SaveChunkCheckpoint: build query: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("SaveChunkCheckpoint: %w", err)
	}
	return nil
}

// LoadChunkCheckpoints implements repository.ImportJobRepository.
func (s *Store) LoadChunkCheckpoints(ctx context.Context, jobID string) ([]domain.ChunkCheckpoint, error) {
	sql, args, err := psql.Select("chunk_index", "content_hash", "payload", "created_at").
		From(checkpointsTable).
		Where("job_id = ?", jobID).
		OrderBy("chunk_index").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("LoadChunkCheckpoints: build query: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("LoadChunkCheckpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.ChunkCheckpoint
	for rows.Next() {
		var cp domain.ChunkCheckpoint
		var payload []byte
		if err := rows.Scan(&cp.ChunkIndex, &cp.ContentHash, &payload, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("LoadChunkCheckpoints: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &cp.Transactions); err != nil {
			return nil, fmt.Errorf("LoadChunkCheckpoints: chunk %d: %w", cp.ChunkIndex, err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadChunkCheckpoints: %w", err)
	}
	return out, nil
}

// ListTransactionKeys implements repository.TransactionRepository.
func (s *Store) ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
	sql, args, err := psql.Select("reference", "transaction_date").
		From(transactionsTable).
		Where("account_id = ?", accountID).
		Where("reference IS NOT NULL AND reference <> ''").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListTransactionKeys: build query: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionKeys: %w", err)
	}
	defer rows.Close()

	var keys []domain.TransactionKey
	for rows.Next() {
		var ref string
		var date time.Time
		if err := rows.Scan(&ref, &date); err != nil {
			return nil, fmt.Errorf("ListTransactionKeys: scan: %w", err)
		}
		keys = append(keys, domain.TransactionKey{Reference: ref, Date: civil.DateOf(date)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactionKeys: %w", err)
	}
	return keys, nil
}

// InsertTransactions implements repository.TransactionRepository. Rows are
// inserted one statement each, so one rejected row never affects another.
func (s *Store) InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error {
	log := logger.FromContext(ctx)
	errs := make([]error, len(rows))

	for i, tx := range rows {
		sql, args, err := insertTransactionQuery(tx).ToSql()
		if err != nil {
			errs[i] = fmt.Errorf("InsertTransactions: row %d: build query: %w", i, err)
			continue
		}
		_, err = s.db.Exec(ctx, sql, args...)
		if errs[i] = insertError(i, err); errs[i] != nil {
			log.Debug().Err(errs[i]).Str("transaction_id", tx.ID).Msg("Transaction row rejected")
		}
	}
	return errs
}

// insertError classifies a failed row insert. A clash on the primary key
// means an earlier attempt already stored the row.
func insertError(i int, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == transactionsPrimaryKey:
		return fmt.Errorf("InsertTransactions: row %d: %w", i, domain.ErrTransactionExists)
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("InsertTransactions: row %d: %w", i, domain.ErrDuplicateTransaction)
	}
	return fmt.Errorf("InsertTransactions: row %d: %w", i, err)
}

func (s *Store) queryJobs(ctx context.Context, sql string, args []any) ([]*domain.ImportJob, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.ImportJob, error) {
	var (
		job           domain.ImportJob
		sha, mimeType *string
		status        string
		method        *string
		meta          []byte
	)
	err := row.Scan(
		&job.ID, &job.AccountID, &job.UserID,
		&job.File.Path, &sha, &job.File.Size, &mimeType,
		&status, &method,
		&job.TotalTransactions, &job.ImportedTransactions, &job.FailedTransactions,
		&job.Confidence, &job.ErrorMessage, &meta,
		&job.LeaseExpiresAt, &job.Attempts,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.ImportStatus(status)
	if sha != nil {
		job.File.SHA256 = *sha
	}
	if mimeType != nil {
		job.File.MIMEType = *mimeType
	}
	if method != nil {
		job.ParsingMethod = domain.ParsingMethod(*method)
	}
	job.Metadata = domain.Metadata{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("job %s: metadata: %w", job.ID, err)
		}
		if job.Metadata == nil {
			job.Metadata = domain.Metadata{}
		}
	}
	return &job, nil
}

func referenceKey(tx *domain.PersistedTransaction) *string {
	if tx.Reference == nil {
		return nil
	}
	key, ok := dedup.NewKey(tx.AccountID, *tx.Reference, tx.Date)
	if !ok {
		return nil
	}
	return &key.Reference
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.ResumableLister = (*Store)(nil)
)
