package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/repository"
)

const (
	jobsTable         = "import_jobs"
	candidatesTable   = "import_candidates"
	checkpointsTable  = "import_chunk_checkpoints"
	transactionsTable = "transactions"
)

var jobColumns = []string{
	"id", "account_id", "user_id",
	"file_path", "file_sha256", "file_size", "file_mime_type",
	"status", "parsing_method",
	"total_transactions", "imported_transactions", "failed_transactions",
	"confidence", "error_message", "metadata",
	"lease_expires_at", "attempts",
	"created_at", "updated_at", "completed_at",
}

var returningJob = "RETURNING " + strings.Join(jobColumns, ", ")

func insertJobQuery(job *domain.ImportJob) (squirrel.InsertBuilder, error) {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return squirrel.InsertBuilder{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return psql.Insert(jobsTable).
		Columns(jobColumns...).
		Values(
			job.ID, job.AccountID, job.UserID,
			job.File.Path, nullIfEmpty(job.File.SHA256), job.File.Size, nullIfEmpty(job.File.MIMEType),
			string(job.Status), nullIfEmpty(string(job.ParsingMethod)),
			job.TotalTransactions, job.ImportedTransactions, job.FailedTransactions,
			job.Confidence, job.ErrorMessage, meta,
			job.LeaseExpiresAt, job.Attempts,
			job.CreatedAt, job.UpdatedAt, job.CompletedAt,
		), nil
}

func selectJobsQuery(filter repository.JobFilter) squirrel.SelectBuilder {
	q := psql.Select(jobColumns...).From(jobsTable).OrderBy("created_at DESC")
	if filter.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.AccountID != "" {
		q = q.Where(squirrel.Eq{"account_id": filter.AccountID})
	}
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

func resumableQuery(filter repository.ResumableFilter) squirrel.SelectBuilder {
	q := psql.Select(jobColumns...).From(jobsTable).
		Where(squirrel.Or{
			squirrel.Eq{"status": string(domain.StatusPending)},
			squirrel.And{
				squirrel.Eq{"status": string(domain.StatusProcessing)},
				squirrel.Or{
					squirrel.Eq{"lease_expires_at": nil},
					squirrel.LtOrEq{"lease_expires_at": filter.Now},
				},
			},
		}).
		OrderBy("created_at")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

// claimQuery moves a job into processing unless another lease is live.
func claimQuery(id string, from []domain.ImportStatus, leaseUntil, now time.Time) squirrel.UpdateBuilder {
	return psql.Update(jobsTable).
		Set("status", string(domain.StatusProcessing)).
		Set("lease_expires_at", leaseUntil).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "status": statusStrings(from)}).
		Where(squirrel.Expr(
			"NOT (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at > ?)",
			string(domain.StatusProcessing), now,
		)).
		Suffix(returningJob)
}

// updateJobQuery overwrites the mutable columns, guarded by the statuses
// allowed to move to job.Status.
func updateJobQuery(job *domain.ImportJob) (squirrel.UpdateBuilder, error) {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return squirrel.UpdateBuilder{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return psql.Update(jobsTable).
		SetMap(map[string]any{
			"status":                string(job.Status),
			"parsing_method":        nullIfEmpty(string(job.ParsingMethod)),
			"total_transactions":    job.TotalTransactions,
			"imported_transactions": job.ImportedTransactions,
			"failed_transactions":   job.FailedTransactions,
			"confidence":            job.Confidence,
			"error_message":         job.ErrorMessage,
			"metadata":              meta,
			"lease_expires_at":      job.LeaseExpiresAt,
			"attempts":              job.Attempts,
			"updated_at":            job.UpdatedAt,
			"completed_at":          job.CompletedAt,
		}).
		Where(squirrel.Eq{"id": job.ID, "status": statusStrings(domain.Predecessors(job.Status))}), nil
}

func upsertCandidatesQuery(jobID string, payload []byte, now time.Time) squirrel.InsertBuilder {
	return psql.Insert(candidatesTable).
		Columns("job_id", "payload", "updated_at").
		Values(jobID, payload, now).
		Suffix("ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at")
}

func upsertCheckpointQuery(jobID string, cp domain.ChunkCheckpoint, payload []byte) squirrel.InsertBuilder {
	return psql.Insert(checkpointsTable).
		Columns("job_id", "chunk_index", "content_hash", "payload", "created_at").
		Values(jobID, cp.ChunkIndex, cp.ContentHash, payload, cp.CreatedAt).
		Suffix("ON CONFLICT (job_id, chunk_index) DO UPDATE SET content_hash = EXCLUDED.content_hash, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at")
}

func insertTransactionQuery(tx *domain.PersistedTransaction) squirrel.InsertBuilder {
	return psql.Insert(transactionsTable).
		Columns(
			"id", "account_id", "import_job_id", "transaction_date", "amount",
			"description", "classification", "reference", "reference_key",
			"created_at", "updated_at",
		).
		Values(
			tx.ID, tx.AccountID, tx.ImportJobID, tx.Date.In(time.UTC), tx.Amount,
			tx.Description, string(tx.Classification), tx.Reference, referenceKey(tx),
			tx.CreatedAt, tx.UpdatedAt,
		)
}

func statusStrings(statuses []domain.ImportStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
