package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ImportStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusReview, true},
		{StatusProcessing, StatusFailed, true},
		{StatusReview, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusPending, StatusReview, false},
		{StatusReview, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []ImportStatus{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ImportStatus{StatusPending, StatusProcessing, StatusReview} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestLeaseActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	job := &ImportJob{Status: StatusProcessing, LeaseExpiresAt: &future}
	if !job.LeaseActive(now) {
		t.Error("expected live lease")
	}

	job.LeaseExpiresAt = &past
	if job.LeaseActive(now) {
		t.Error("expected expired lease")
	}

	job.LeaseExpiresAt = nil
	if job.LeaseActive(now) {
		t.Error("expected no lease")
	}
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{
		MetaEstimatedTransactions: 12,
		MetaChunked:               true,
		MetaDiscards:              []Discard{{Index: 1, Reason: "no match"}},
	}

	c := m.Clone()
	if c.Int(MetaEstimatedTransactions) != 12 {
		t.Errorf("Int() = %d, want 12", c.Int(MetaEstimatedTransactions))
	}
	if !c.Bool(MetaChunked) {
		t.Error("expected chunked=true")
	}
	if c.Len(MetaDiscards) != 1 {
		t.Errorf("Len(discards) = %d, want 1", c.Len(MetaDiscards))
	}

	c[MetaChunked] = false
	if !m.Bool(MetaChunked) {
		t.Error("clone must not alias the original")
	}
}

func TestTransitionErrorIs(t *testing.T) {
	err := &TransitionError{From: StatusCompleted, To: StatusProcessing}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("TransitionError should unwrap to ErrInvalidTransition")
	}
}

func TestPredecessors(t *testing.T) {
	got := Predecessors(StatusProcessing)
	want := map[ImportStatus]bool{StatusProcessing: true, StatusPending: true, StatusReview: true}
	if len(got) != len(want) {
		t.Fatalf("Predecessors(processing) = %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected predecessor %s", s)
		}
	}

	if got := Predecessors(StatusPending); len(got) != 1 || got[0] != StatusPending {
		t.Errorf("Predecessors(pending) = %v, want only pending", got)
	}
}
