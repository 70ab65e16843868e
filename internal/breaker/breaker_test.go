package breaker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/domain"
)

var (
	errUpstream = errors.New("upstream 500")
	ctx         = context.Background()
)

func newTestBreaker(cooldown time.Duration) *Breaker {
	return New(Config{FailureThreshold: 5, Cooldown: cooldown, HalfOpenRequests: 1}, zerolog.New(io.Discard))
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(time.Minute)

	var calls atomic.Int32
	failing := func() error {
		calls.Add(1)
		return errUpstream
	}

	for i := 0; i < 5; i++ {
		if err := b.Do(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: err = %v, want upstream error", i+1, err)
		}
	}

	err := b.Do(ctx, failing)
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("sixth call err = %v, want ErrServiceUnavailable", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("upstream invoked %d times, want 5", got)
	}
	if b.State() != "open" {
		t.Errorf("State() = %s, want open", b.State())
	}
	if b.Trips() != 1 {
		t.Errorf("Trips() = %d, want 1", b.Trips())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(time.Minute)

	for i := 0; i < 4; i++ {
		_ = b.Do(ctx, func() error { return errUpstream })
	}
	if err := b.Do(ctx, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = b.Do(ctx, func() error { return errUpstream })
	}

	if b.State() != "closed" {
		t.Errorf("State() = %s, want closed after reset", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, func() error { return errUpstream })
	}
	if b.State() != "open" {
		t.Fatalf("State() = %s, want open", b.State())
	}

	time.Sleep(40 * time.Millisecond)

	if err := b.Do(ctx, func() error { return nil }); err != nil {
		t.Fatalf("trial call err = %v", err)
	}
	if b.State() != "closed" {
		t.Errorf("State() = %s, want closed after successful trial", b.State())
	}
}

func TestBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, func() error { return errUpstream })
	}
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Do(ctx, func() error { return nil })
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("second trial err = %v, want ErrServiceUnavailable", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first trial err = %v", err)
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := newTestBreaker(time.Minute)

	for i := 0; i < 10; i++ {
		_ = b.Do(ctx, func() error { return context.Canceled })
	}
	if b.State() != "closed" {
		t.Errorf("State() = %s, want closed", b.State())
	}
}

func TestBreaker_CancellationKeepsFailureStreak(t *testing.T) {
	tests := []struct {
		name   string
		cancel func() (context.Context, error)
	}{
		{"canceled error", func() (context.Context, error) { return ctx, context.Canceled }},
		{"caller context done", func() (context.Context, error) {
			c, cancel := context.WithCancel(ctx)
			cancel()
			return c, errors.New("read tcp: connection reset")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBreaker(time.Minute)

			for i := 0; i < 4; i++ {
				_ = b.Do(ctx, func() error { return errUpstream })
			}
			callCtx, callErr := tt.cancel()
			_ = b.Do(callCtx, func() error { return callErr })
			if b.State() != "closed" {
				t.Fatalf("State() = %s after cancellation, want closed", b.State())
			}

			_ = b.Do(ctx, func() error { return errUpstream })
			if b.State() != "open" {
				t.Errorf("State() = %s, want open after fifth real failure", b.State())
			}
			if b.Trips() != 1 {
				t.Errorf("Trips() = %d, want 1", b.Trips())
			}
		})
	}
}

func TestBreaker_CancelledHalfOpenTrialDoesNotClose(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, func() error { return errUpstream })
	}
	time.Sleep(40 * time.Millisecond)

	_ = b.Do(ctx, func() error { return context.Canceled })
	if b.State() == "closed" {
		t.Fatal("cancelled trial closed the breaker")
	}
	if b.Trips() != 1 {
		t.Errorf("Trips() = %d, want 1", b.Trips())
	}

	err := b.Do(ctx, func() error { return nil })
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("call after cancelled trial err = %v, want ErrServiceUnavailable", err)
	}
}
