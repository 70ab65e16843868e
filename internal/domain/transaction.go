package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Classification is the direction of money for a transaction.
type Classification string

const (
	ClassificationIncome  Classification = "income"
	ClassificationExpense Classification = "expense"
)

// Tier summarizes how strongly a candidate is corroborated by the source text.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Score maps a tier onto [0,1] for the job-level confidence figure.
func (t Tier) Score() float64 {
	switch t {
	case TierHigh:
		return 1
	case TierMedium:
		return 2.0 / 3.0
	case TierLow:
		return 1.0 / 3.0
	}
	return 0
}

// CandidateTransaction is an extracted transaction that has not been committed.
// Amount is signed: positive is money in.
type CandidateTransaction struct {
	Date           civil.Date      `json:"date"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Classification Classification  `json:"classification,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	ChunkIndex     int             `json:"chunk_index"`
	Tier           Tier            `json:"tier,omitempty"`
	Valid          bool            `json:"valid"`
}

// PersistedTransaction is a committed transaction row.
type PersistedTransaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	ImportJobID    *string         `json:"import_job_id,omitempty"`
	Date           civil.Date      `json:"date"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Classification Classification  `json:"classification"`
	Reference      *string         `json:"reference,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransactionKey is the (reference, date) pair of an existing transaction.
type TransactionKey struct {
	Reference string
	Date      civil.Date
}

// ChunkCheckpoint stores the provider output for one chunk so a resumed
// run can skip it.
type ChunkCheckpoint struct {
	ChunkIndex   int                    `json:"chunk_index"`
	ContentHash  string                 `json:"content_hash"`
	Transactions []CandidateTransaction `json:"transactions"`
	CreatedAt    time.Time              `json:"created_at"`
}
