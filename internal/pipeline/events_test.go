package pipeline

import (
	"testing"

	"github.com/dvloznov/statement-importer/internal/domain"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe("job-1")
	ch2, cancel2 := b.Subscribe("job-1")
	other, cancelOther := b.Subscribe("job-2")
	defer cancelOther()

	if n := b.Subscribers("job-1"); n != 2 {
		t.Fatalf("Subscribers() = %d, want 2", n)
	}

	job := &domain.ImportJob{ID: "job-1", Status: domain.StatusProcessing, Metadata: domain.Metadata{}}
	b.Publish(job)
	job.Status = domain.StatusReview

	for i, ch := range []<-chan *domain.ImportJob{ch1, ch2} {
		got := <-ch
		if got.Status != domain.StatusProcessing {
			t.Errorf("subscriber %d got %s, want a processing snapshot", i, got.Status)
		}
	}
	select {
	case j := <-other:
		t.Errorf("job-2 subscriber received %s", j.ID)
	default:
	}

	cancel1()
	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after cancel")
	}
	if n := b.Subscribers("job-1"); n != 1 {
		t.Errorf("Subscribers() = %d after cancel, want 1", n)
	}
	cancel2()
	if n := b.Subscribers("job-1"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe("job-1")
	defer cancel()

	job := &domain.ImportJob{ID: "job-1", Metadata: domain.Metadata{}}
	for i := 0; i < subscriberBuffer*3; i++ {
		b.Publish(job)
	}

	var nilB *Broadcaster
	nilB.Publish(job)
}
