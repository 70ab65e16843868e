package commit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// MockTransactionRepository is a mock implementation of repository.TransactionRepository.
type MockTransactionRepository struct {
	InsertTransactionsFunc  func(ctx context.Context, rows []*domain.PersistedTransaction) []error
	ListTransactionKeysFunc func(ctx context.Context, accountID string) ([]domain.TransactionKey, error)
	batches                 [][]*domain.PersistedTransaction
}

func (m *MockTransactionRepository) InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error {
	m.batches = append(m.batches, rows)
	if m.InsertTransactionsFunc != nil {
		return m.InsertTransactionsFunc(ctx, rows)
	}
	return make([]error, len(rows))
}

func (m *MockTransactionRepository) ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
	if m.ListTransactionKeysFunc != nil {
		return m.ListTransactionKeysFunc(ctx, accountID)
	}
	return nil, nil
}

func candidates(n int) []domain.CandidateTransaction {
	out := make([]domain.CandidateTransaction, n)
	for i := range out {
		out[i] = domain.CandidateTransaction{
			Date:           civil.Date{Year: 2024, Month: 3, Day: i + 1},
			Description:    fmt.Sprintf("ROW %d", i+1),
			Amount:         decimal.NewFromInt(int64(-(i + 1))),
			Classification: domain.ClassificationExpense,
			Reference:      fmt.Sprintf("REF%d", i+1),
			Valid:          true,
		}
	}
	return out
}

func TestCommit_ScenarioE_OneRowViolatesConstraint(t *testing.T) {
	repo := &MockTransactionRepository{
		InsertTransactionsFunc: func(ctx context.Context, rows []*domain.PersistedTransaction) []error {
			errs := make([]error, len(rows))
			for i, r := range rows {
				if r.Description == "ROW 7" {
					errs[i] = fmt.Errorf("insert: %w", domain.ErrDuplicateTransaction)
				}
			}
			return errs
		},
	}
	job := &domain.ImportJob{ID: "job-1", AccountID: "acc-1"}

	out := NewWriter(repo, 0).Commit(context.Background(), job, candidates(10))

	if out.Imported != 9 || out.Failed != 1 {
		t.Fatalf("imported=%d failed=%d, want 9/1", out.Imported, out.Failed)
	}
	if out.Status() != domain.StatusCompleted {
		t.Errorf("Status() = %s, want completed", out.Status())
	}
	if !errors.Is(out.Err(), domain.ErrPartialCommitFailure) {
		t.Errorf("Err() = %v, want ErrPartialCommitFailure", out.Err())
	}
	if len(out.Errors) != 1 || out.Errors[0].Index != 6 || !out.Errors[0].Duplicate {
		t.Errorf("Errors = %+v, want row index 6 flagged duplicate", out.Errors)
	}
}

func TestCommit_RowFields(t *testing.T) {
	repo := &MockTransactionRepository{}
	job := &domain.ImportJob{ID: "job-1", AccountID: "acc-1"}
	cands := candidates(2)
	cands[1].Reference = "  "

	out := NewWriter(repo, 0).Commit(context.Background(), job, cands)

	if out.Imported != 2 || out.Err() != nil {
		t.Fatalf("outcome = %+v", out)
	}
	rows := repo.batches[0]
	if rows[0].AccountID != "acc-1" || rows[0].ImportJobID == nil || *rows[0].ImportJobID != "job-1" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[0].Reference == nil || *rows[0].Reference != "REF1" {
		t.Errorf("row 0 reference = %v", rows[0].Reference)
	}
	if rows[1].Reference != nil {
		t.Errorf("blank reference should be stored as NULL, got %q", *rows[1].Reference)
	}
	if rows[0].ID != RowID("job-1", 0) || rows[0].ID == rows[1].ID {
		t.Errorf("row ids = %s, %s; want stable per candidate index", rows[0].ID, rows[1].ID)
	}
}

func TestCommit_RepeatedAfterInterruption(t *testing.T) {
	stored := make(map[string]bool)
	repo := &MockTransactionRepository{
		InsertTransactionsFunc: func(ctx context.Context, rows []*domain.PersistedTransaction) []error {
			errs := make([]error, len(rows))
			for i, r := range rows {
				if stored[r.ID] {
					errs[i] = fmt.Errorf("insert: %w", domain.ErrTransactionExists)
					continue
				}
				stored[r.ID] = true
			}
			return errs
		},
	}
	job := &domain.ImportJob{ID: "job-1", AccountID: "acc-1"}
	cands := candidates(3)

	first := NewWriter(repo, 0).Commit(context.Background(), job, cands[:2])
	second := NewWriter(repo, 0).Commit(context.Background(), job, cands)

	if first.Imported != 2 {
		t.Fatalf("first commit imported %d, want 2", first.Imported)
	}
	if second.Imported != 3 || second.Failed != 0 || second.Resumed != 2 {
		t.Errorf("second commit = %+v, want 3 imported, 2 resumed", second)
	}
	if len(stored) != 3 {
		t.Errorf("stored rows = %d, want 3", len(stored))
	}
	if second.Status() != domain.StatusCompleted || second.Err() != nil {
		t.Errorf("status=%s err=%v", second.Status(), second.Err())
	}
}

func TestCommit_Batches(t *testing.T) {
	repo := &MockTransactionRepository{}
	out := NewWriter(repo, 4).Commit(context.Background(), &domain.ImportJob{ID: "j"}, candidates(10))

	if out.Imported != 10 {
		t.Errorf("Imported = %d, want 10", out.Imported)
	}
	if len(repo.batches) != 3 || len(repo.batches[2]) != 2 {
		t.Errorf("batches = %d, want 3 with the last holding 2 rows", len(repo.batches))
	}
}

func TestCommit_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		cands      []domain.CandidateTransaction
		failAll    bool
		wantStatus domain.ImportStatus
		wantFailed int
	}{
		{"empty commit completes", nil, false, domain.StatusCompleted, 0},
		{"all rows fail", candidates(3), true, domain.StatusFailed, 3},
		{"clean commit", candidates(3), false, domain.StatusCompleted, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockTransactionRepository{InsertTransactionsFunc: func(ctx context.Context, rows []*domain.PersistedTransaction) []error {
				errs := make([]error, len(rows))
				if tt.failAll {
					for i := range errs {
						errs[i] = errors.New("constraint violation")
					}
				}
				return errs
			}}
			out := NewWriter(repo, 0).Commit(context.Background(), &domain.ImportJob{ID: "j"}, tt.cands)
			if out.Status() != tt.wantStatus || out.Failed != tt.wantFailed {
				t.Errorf("status=%s failed=%d, want %s/%d", out.Status(), out.Failed, tt.wantStatus, tt.wantFailed)
			}
		})
	}
}

func TestCommit_InvalidCandidatesNeverReachStore(t *testing.T) {
	cands := candidates(3)
	cands[0].Classification = ""
	cands[1].Description = " "
	cands[2].Date = civil.Date{Year: 2024, Month: 2, Day: 30}

	repo := &MockTransactionRepository{}
	out := NewWriter(repo, 0).Commit(context.Background(), &domain.ImportJob{ID: "j"}, cands)

	if out.Failed != 3 || out.Imported != 0 {
		t.Errorf("imported=%d failed=%d, want 0/3", out.Imported, out.Failed)
	}
	if len(repo.batches) != 0 {
		t.Errorf("repository called %d times, want 0", len(repo.batches))
	}
	for _, e := range out.Errors {
		if e.Duplicate {
			t.Errorf("row %d wrongly flagged duplicate", e.Index)
		}
	}
}
