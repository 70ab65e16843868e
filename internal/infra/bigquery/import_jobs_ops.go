package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/repository"
)

const importJobsTable = "import_jobs"

// CreateJobWithClient inserts a new import job. A DML insert is used instead
// of the streaming inserter because the row is updated right afterwards.
func CreateJobWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, job *domain.ImportJob) error {
	row, err := NewImportJobRow(job)
	if err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		INSERT %s (%s)
		VALUES (
			@job_id,
			@account_id,
			@user_id,
			@file_path,
			@file_sha256,
			@file_size,
			@file_mime_type,
			@status,
			@parsing_method,
			@total_transactions,
			@imported_transactions,
			@failed_transactions,
			@confidence,
			@error_message,
			PARSE_JSON(@metadata),
			@lease_expires_ts,
			@attempts,
			@created_ts,
			@updated_ts,
			@completed_ts
		)
	`, ds.Table(importJobsTable), importJobColumns))
	q.Parameters = row.params()

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// GetJobWithClient loads one job or returns domain.ErrNotFound.
func GetJobWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string) (*domain.ImportJob, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE job_id = @job_id
		LIMIT 1
	`, importJobColumns, ds.Table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: id},
	}

	jobs, err := readJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("GetJob: job %s: %w", id, domain.ErrNotFound)
	}
	return jobs[0], nil
}

// ListJobsWithClient lists jobs newest first.
func ListJobsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter repository.JobFilter) ([]*domain.ImportJob, error) {
	var where []string
	var params []bigquery.QueryParameter
	if filter.UserID != "" {
		where = append(where, "user_id = @user_id")
		params = append(params, bigquery.QueryParameter{Name: "user_id", Value: filter.UserID})
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = @account_id")
		params = append(params, bigquery.QueryParameter{Name: "account_id", Value: filter.AccountID})
	}
	if filter.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}

	query := fmt.Sprintf("SELECT %s\nFROM %s", importJobColumns, ds.Table(importJobsTable))
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY created_ts DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf("\nLIMIT %d OFFSET %d", filter.Limit, max(filter.Offset, 0))
	}

	q := client.Query(query)
	q.Parameters = params
	jobs, err := readJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	if filter.Limit <= 0 && filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	return jobs, nil
}

// ListResumableWithClient returns pending jobs and processing jobs whose
// lease has expired, oldest first.
func ListResumableWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter repository.ResumableFilter) ([]*domain.ImportJob, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE status = @pending
		   OR (status = @processing AND (lease_expires_ts IS NULL OR lease_expires_ts <= @now))
		ORDER BY created_ts
	`, importJobColumns, ds.Table(importJobsTable))
	if filter.Limit > 0 {
		query += fmt.Sprintf("LIMIT %d", filter.Limit)
	}

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "pending", Value: string(domain.StatusPending)},
		{Name: "processing", Value: string(domain.StatusProcessing)},
		{Name: "now", Value: filter.Now},
	}
	jobs, err := readJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListResumable: %w", err)
	}
	return jobs, nil
}

// ClaimJobWithClient moves a job into processing with a lease in a single
// UPDATE. When no row matched, the job is re-read to report why.
func ClaimJobWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string, from []domain.ImportStatus, leaseUntil, now time.Time) (*domain.ImportJob, error) {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @processing,
		    lease_expires_ts = @lease_until,
		    attempts = attempts + 1,
		    updated_ts = @now
		WHERE job_id = @job_id
		  AND status IN UNNEST(@from)
		  AND NOT (status = @processing AND lease_expires_ts IS NOT NULL AND lease_expires_ts > @now)
	`, ds.Table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "processing", Value: string(domain.StatusProcessing)},
		{Name: "lease_until", Value: leaseUntil},
		{Name: "now", Value: now},
		{Name: "job_id", Value: id},
		{Name: "from", Value: statusStrings(from)},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ClaimJob: %w", err)
	}

	job, err := GetJobWithClient(ctx, client, ds, id)
	if err != nil {
		return nil, fmt.Errorf("ClaimJob: %w", err)
	}
	if affected == 0 {
		if err := repository.ClaimAllowed(job, from, now); err != nil {
			return nil, fmt.Errorf("ClaimJob: job %s: %w", id, err)
		}
		// Another claimant won between our UPDATE and the read.
		return nil, fmt.Errorf("ClaimJob: job %s: %w", id, domain.ErrAlreadyProcessing)
	}
	return job, nil
}

// UpdateJobWithClient overwrites a job, guarded by the allowed predecessor
// statuses so a concurrent writer cannot move it backwards.
func UpdateJobWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, job *domain.ImportJob) error {
	row, err := NewImportJobRow(job)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    parsing_method = @parsing_method,
		    total_transactions = @total_transactions,
		    imported_transactions = @imported_transactions,
		    failed_transactions = @failed_transactions,
		    confidence = @confidence,
		    error_message = @error_message,
		    metadata = PARSE_JSON(@metadata),
		    lease_expires_ts = @lease_expires_ts,
		    attempts = @attempts,
		    updated_ts = @updated_ts,
		    completed_ts = @completed_ts
		WHERE job_id = @job_id
		  AND status IN UNNEST(@allowed)
	`, ds.Table(importJobsTable)))
	q.Parameters = append(row.params(), bigquery.QueryParameter{
		Name:  "allowed",
		Value: statusStrings(domain.Predecessors(job.Status)),
	})

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	if affected > 0 {
		return nil
	}

	stored, err := GetJobWithClient(ctx, client, ds, job.ID)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	return fmt.Errorf("UpdateJob: job %s: %w", job.ID, &domain.TransitionError{From: stored.Status, To: job.Status})
}

func readJobs(ctx context.Context, q *bigquery.Query) ([]*domain.ImportJob, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var jobs []*domain.ImportJob
	for {
		var r ImportJobRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		job, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
