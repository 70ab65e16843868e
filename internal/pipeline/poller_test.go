package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
)

func TestPoller_EnqueuesResumableJobs(t *testing.T) {
	f := newFixture(t, Config{}, candidatesStep(expense(5, "TESCO", "-12.50", "")))
	ctx := context.Background()

	pending := f.create(t)

	reviewed := f.create(t)
	if err := f.svc.Run(ctx, reviewed.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stale := f.create(t)
	now := time.Now()
	if _, err := f.store.ClaimJob(ctx, stale.ID, []domain.ImportStatus{domain.StatusPending}, now.Add(-time.Minute), now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}

	live := f.create(t)
	if _, err := f.store.ClaimJob(ctx, live.ID, []domain.ImportStatus{domain.StatusPending}, now.Add(time.Hour), now); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}

	p := &Poller{Jobs: f.store, Service: f.svc, Batch: 10}
	n, err := p.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Poll() enqueued %d, want 2", n)
	}

	got := map[string]bool{}
	for _, task := range f.publisher.tasks {
		got[task.ImportJobID] = true
	}
	if !got[pending.ID] || !got[stale.ID] || got[reviewed.ID] || got[live.ID] {
		t.Errorf("enqueued jobs = %v", got)
	}
}

func TestRun_StaleDeliveryIsNoop(t *testing.T) {
	f := newFixture(t, Config{}, candidatesStep(expense(5, "TESCO", "-12.50", "")))
	ctx := context.Background()
	job := f.create(t)
	if err := f.svc.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if err := f.svc.Run(ctx, job.ID); err != nil {
		t.Errorf("second Run() error = %v, want nil", err)
	}
	if got := f.get(t, job.ID); got.Status != domain.StatusReview || got.Attempts != 1 {
		t.Errorf("job = %s attempts %d", got.Status, got.Attempts)
	}
}

func TestPoller_RunStopsWithContext(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Poller{Jobs: f.store, Service: f.svc, Interval: 5 * time.Millisecond}).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}
