package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// ImportJobRow mirrors one row of the import_jobs table.
type ImportJobRow struct {
	JobID     string `bigquery:"job_id"`     // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED
	UserID    string `bigquery:"user_id"`    // REQUIRED

	FilePath     string              `bigquery:"file_path"`      // REQUIRED
	FileSHA256   bigquery.NullString `bigquery:"file_sha256"`    // NULLABLE
	FileSize     int64               `bigquery:"file_size"`      // REQUIRED
	FileMIMEType bigquery.NullString `bigquery:"file_mime_type"` // NULLABLE

	Status        string              `bigquery:"status"`         // REQUIRED
	ParsingMethod bigquery.NullString `bigquery:"parsing_method"` // NULLABLE

	TotalTransactions    int64 `bigquery:"total_transactions"`
	ImportedTransactions int64 `bigquery:"imported_transactions"`
	FailedTransactions   int64 `bigquery:"failed_transactions"`

	Confidence   bigquery.NullFloat64 `bigquery:"confidence"`    // NULLABLE
	ErrorMessage bigquery.NullString  `bigquery:"error_message"` // NULLABLE
	Metadata     bigquery.NullJSON    `bigquery:"metadata"`      // NULLABLE JSON

	LeaseExpiresTS bigquery.NullTimestamp `bigquery:"lease_expires_ts"` // NULLABLE
	Attempts       int64                  `bigquery:"attempts"`

	CreatedTS   time.Time              `bigquery:"created_ts"`   // REQUIRED
	UpdatedTS   time.Time              `bigquery:"updated_ts"`   // REQUIRED
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"` // NULLABLE
}

// importJobColumns is the SELECT list matching ImportJobRow.
const importJobColumns = `
	job_id,
	account_id,
	user_id,
	file_path,
	file_sha256,
	file_size,
	file_mime_type,
	status,
	parsing_method,
	total_transactions,
	imported_transactions,
	failed_transactions,
	confidence,
	error_message,
	metadata,
	lease_expires_ts,
	attempts,
	created_ts,
	updated_ts,
	completed_ts`

// NewImportJobRow converts a job into its table row.
func NewImportJobRow(job *domain.ImportJob) (*ImportJobRow, error) {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("NewImportJobRow: marshal metadata: %w", err)
	}

	row := &ImportJobRow{
		JobID:                job.ID,
		AccountID:            job.AccountID,
		UserID:               job.UserID,
		FilePath:             job.File.Path,
		FileSHA256:           nullString(job.File.SHA256),
		FileSize:             job.File.Size,
		FileMIMEType:         nullString(job.File.MIMEType),
		Status:               string(job.Status),
		ParsingMethod:        nullString(string(job.ParsingMethod)),
		TotalTransactions:    int64(job.TotalTransactions),
		ImportedTransactions: int64(job.ImportedTransactions),
		FailedTransactions:   int64(job.FailedTransactions),
		Metadata:             bigquery.NullJSON{JSONVal: string(meta), Valid: true},
		Attempts:             int64(job.Attempts),
		CreatedTS:            job.CreatedAt,
		UpdatedTS:            job.UpdatedAt,
	}
	if job.Confidence != nil {
		row.Confidence = bigquery.NullFloat64{Float64: *job.Confidence, Valid: true}
	}
	if job.ErrorMessage != nil {
		row.ErrorMessage = bigquery.NullString{StringVal: *job.ErrorMessage, Valid: true}
	}
	if job.LeaseExpiresAt != nil {
		row.LeaseExpiresTS = bigquery.NullTimestamp{Timestamp: *job.LeaseExpiresAt, Valid: true}
	}
	if job.CompletedAt != nil {
		row.CompletedTS = bigquery.NullTimestamp{Timestamp: *job.CompletedAt, Valid: true}
	}
	return row, nil
}

// ToDomain converts the row back into a job.
func (r *ImportJobRow) ToDomain() (*domain.ImportJob, error) {
	job := &domain.ImportJob{
		ID:        r.JobID,
		AccountID: r.AccountID,
		UserID:    r.UserID,
		File: domain.FileRef{
			Path:     r.FilePath,
			SHA256:   r.FileSHA256.StringVal,
			Size:     r.FileSize,
			MIMEType: r.FileMIMEType.StringVal,
		},
		Status:               domain.ImportStatus(r.Status),
		ParsingMethod:        domain.ParsingMethod(r.ParsingMethod.StringVal),
		TotalTransactions:    int(r.TotalTransactions),
		ImportedTransactions: int(r.ImportedTransactions),
		FailedTransactions:   int(r.FailedTransactions),
		Metadata:             domain.Metadata{},
		Attempts:             int(r.Attempts),
		CreatedAt:            r.CreatedTS,
		UpdatedAt:            r.UpdatedTS,
	}
	if r.Metadata.Valid && r.Metadata.JSONVal != "" {
		if err := json.Unmarshal([]byte(r.Metadata.JSONVal), &job.Metadata); err != nil {
			return nil, fmt.Errorf("ToDomain: job %s: metadata: %w", r.JobID, err)
		}
		if job.Metadata == nil {
			job.Metadata = domain.Metadata{}
		}
	}
	if r.Confidence.Valid {
		v := r.Confidence.Float64
		job.Confidence = &v
	}
	if r.ErrorMessage.Valid {
		v := r.ErrorMessage.StringVal
		job.ErrorMessage = &v
	}
	if r.LeaseExpiresTS.Valid {
		v := r.LeaseExpiresTS.Timestamp
		job.LeaseExpiresAt = &v
	}
	if r.CompletedTS.Valid {
		v := r.CompletedTS.Timestamp
		job.CompletedAt = &v
	}
	return job, nil
}

// params binds every column of the row for INSERT and UPDATE statements.
func (r *ImportJobRow) params() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "job_id", Value: r.JobID},
		{Name: "account_id", Value: r.AccountID},
		{Name: "user_id", Value: r.UserID},
		{Name: "file_path", Value: r.FilePath},
		{Name: "file_sha256", Value: r.FileSHA256},
		{Name: "file_size", Value: r.FileSize},
		{Name: "file_mime_type", Value: r.FileMIMEType},
		{Name: "status", Value: r.Status},
		{Name: "parsing_method", Value: r.ParsingMethod},
		{Name: "total_transactions", Value: r.TotalTransactions},
		{Name: "imported_transactions", Value: r.ImportedTransactions},
		{Name: "failed_transactions", Value: r.FailedTransactions},
		{Name: "confidence", Value: r.Confidence},
		{Name: "error_message", Value: r.ErrorMessage},
		{Name: "metadata", Value: r.Metadata.JSONVal},
		{Name: "lease_expires_ts", Value: r.LeaseExpiresTS},
		{Name: "attempts", Value: r.Attempts},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
		{Name: "completed_ts", Value: r.CompletedTS},
	}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func statusStrings(statuses []domain.ImportStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
