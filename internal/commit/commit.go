// Package commit writes reviewed candidates as persisted transactions.
package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/repository"
)

// DefaultBatchSize bounds how many rows go to the repository per call.
const DefaultBatchSize = 500

// RowError explains why one candidate was not stored.
type RowError struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Error       string `json:"error"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// Outcome is the result of one commit. Resumed counts the imported rows
// that an earlier attempt had already stored.
type Outcome struct {
	Imported int
	Failed   int
	Resumed  int
	Errors   []RowError
}

// Status maps the outcome to the final job status: failed only when
// every one of at least one row failed.
func (o Outcome) Status() domain.ImportStatus {
	if o.Imported == 0 && o.Failed > 0 {
		return domain.StatusFailed
	}
	return domain.StatusCompleted
}

// Err returns ErrPartialCommitFailure when any row failed.
func (o Outcome) Err() error {
	if o.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d rows: %w", o.Failed, o.Imported+o.Failed, domain.ErrPartialCommitFailure)
}

// Writer inserts candidates row by row. Failures are counted, never retried.
type Writer struct {
	repo      repository.TransactionRepository
	batchSize int
	now       func() time.Time
}

// NewWriter creates a writer. batchSize <= 0 uses DefaultBatchSize.
func NewWriter(repo repository.TransactionRepository, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{
		repo:      repo,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// rowNamespace seeds the ids of committed rows.
var rowNamespace = uuid.MustParse("6f1c2a4e-9b3d-4e57-8a0f-3c5d7e9b1a24")

// RowID is the id of the row committed for candidate index of job. It is
// stable, so a commit that is repeated after an interruption hits rows it
// already stored instead of inserting them twice.
func RowID(jobID string, index int) string {
	return uuid.NewSHA1(rowNamespace, []byte(fmt.Sprintf("%s/%d", jobID, index))).String()
}

// Commit stores candidates for the job's account. Rows already stored by an
// earlier attempt for the same job count as imported.
func (w *Writer) Commit(ctx context.Context, job *domain.ImportJob, candidates []domain.CandidateTransaction) Outcome {
	log := logger.FromContext(ctx)
	var out Outcome

	now := w.now().UTC()
	jobID := job.ID

	rows := make([]*domain.PersistedTransaction, 0, len(candidates))
	index := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if err := checkCandidate(c); err != nil {
			out.fail(i, c.Description, err)
			continue
		}
		row := &domain.PersistedTransaction{
			ID:             RowID(jobID, i),
			AccountID:      job.AccountID,
			ImportJobID:    &jobID,
			Date:           c.Date,
			Description:    c.Description,
			Amount:         c.Amount,
			Classification: c.Classification,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if ref := strings.TrimSpace(c.Reference); ref != "" {
			row.Reference = &ref
		}
		rows = append(rows, row)
		index = append(index, i)
	}

	for start := 0; start < len(rows); start += w.batchSize {
		end := min(start+w.batchSize, len(rows))
		errs := w.repo.InsertTransactions(ctx, rows[start:end])
		for j := start; j < end; j++ {
			var err error
			if k := j - start; k < len(errs) {
				err = errs[k]
			}
			if err != nil && !errors.Is(err, domain.ErrTransactionExists) {
				out.fail(index[j], rows[j].Description, err)
				continue
			}
			if err != nil {
				out.Resumed++
			}
			out.Imported++
		}
	}

	log.Info().
		Str("job_id", job.ID).
		Int("imported", out.Imported).
		Int("failed", out.Failed).
		Int("resumed", out.Resumed).
		Msg("Commit finished")
	return out
}

func (o *Outcome) fail(index int, description string, err error) {
	o.Failed++
	o.Errors = append(o.Errors, RowError{
		Index:       index,
		Description: description,
		Error:       err.Error(),
		Duplicate:   errors.Is(err, domain.ErrDuplicateTransaction),
	})
}

func checkCandidate(c domain.CandidateTransaction) error {
	switch {
	case !c.Date.IsValid():
		return fmt.Errorf("date %s: %w", c.Date, domain.ErrInvalidCandidate)
	case strings.TrimSpace(c.Description) == "":
		return fmt.Errorf("empty description: %w", domain.ErrInvalidCandidate)
	case c.Classification != domain.ClassificationIncome && c.Classification != domain.ClassificationExpense:
		return fmt.Errorf("classification %q: %w", c.Classification, domain.ErrInvalidCandidate)
	}
	return nil
}
