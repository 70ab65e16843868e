package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-importer/internal/dedup"
	"github.com/dvloznov/statement-importer/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED

	ImportJobID bigquery.NullString `bigquery:"import_job_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC, signed

	Description    string `bigquery:"description"`    // REQUIRED
	Classification string `bigquery:"classification"` // REQUIRED income|expense

	Reference bigquery.NullString `bigquery:"reference"` // NULLABLE
	// ReferenceKey is the normalized reference used for uniqueness checks.
	ReferenceKey bigquery.NullString `bigquery:"reference_key"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

// NewTransactionRow converts a committed transaction into its row.
func NewTransactionRow(tx *domain.PersistedTransaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.ID,
		AccountID:       tx.AccountID,
		TransactionDate: tx.Date,
		Amount:          tx.Amount.Rat(),
		Description:     tx.Description,
		Classification:  string(tx.Classification),
		CreatedTS:       tx.CreatedAt,
		UpdatedTS:       tx.UpdatedAt,
	}
	if tx.ImportJobID != nil {
		row.ImportJobID = nullString(*tx.ImportJobID)
	}
	if tx.Reference != nil {
		row.Reference = nullString(*tx.Reference)
		if key, ok := dedup.NewKey(tx.AccountID, *tx.Reference, tx.Date); ok {
			row.ReferenceKey = nullString(key.Reference)
		}
	}
	return row
}

func (r *TransactionRow) params() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "account_id", Value: r.AccountID},
		{Name: "import_job_id", Value: r.ImportJobID},
		{Name: "transaction_date", Value: r.TransactionDate},
		{Name: "amount", Value: r.Amount},
		{Name: "description", Value: r.Description},
		{Name: "classification", Value: r.Classification},
		{Name: "reference", Value: r.Reference},
		{Name: "reference_key", Value: r.ReferenceKey},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}
