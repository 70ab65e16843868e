package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
)

func TestClaimAllowed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	live := now.Add(time.Minute)
	expired := now.Add(-time.Minute)

	pipelineFrom := []domain.ImportStatus{domain.StatusPending, domain.StatusProcessing}
	commitFrom := []domain.ImportStatus{domain.StatusReview}

	tests := []struct {
		name    string
		job     domain.ImportJob
		from    []domain.ImportStatus
		wantErr error
	}{
		{"pending", domain.ImportJob{Status: domain.StatusPending}, pipelineFrom, nil},
		{"live lease", domain.ImportJob{Status: domain.StatusProcessing, LeaseExpiresAt: &live}, pipelineFrom, domain.ErrAlreadyProcessing},
		{"expired lease resumes", domain.ImportJob{Status: domain.StatusProcessing, LeaseExpiresAt: &expired}, pipelineFrom, nil},
		{"no lease resumes", domain.ImportJob{Status: domain.StatusProcessing}, pipelineFrom, nil},
		{"review for commit", domain.ImportJob{Status: domain.StatusReview}, commitFrom, nil},
		{"review for pipeline", domain.ImportJob{Status: domain.StatusReview}, pipelineFrom, domain.ErrInvalidTransition},
		{"expired lease for commit", domain.ImportJob{Status: domain.StatusProcessing, LeaseExpiresAt: &expired}, commitFrom, domain.ErrInvalidTransition},
		{"live lease for commit", domain.ImportJob{Status: domain.StatusProcessing, LeaseExpiresAt: &live}, commitFrom, domain.ErrAlreadyProcessing},
		{"completed", domain.ImportJob{Status: domain.StatusCompleted}, pipelineFrom, domain.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClaimAllowed(&tt.job, tt.from, now)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ClaimAllowed() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ClaimAllowed() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
