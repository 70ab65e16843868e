package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// Config tunes the breaker. Zero values fall back to DefaultConfig.
type Config struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration
	// HalfOpenRequests caps concurrent trial calls while half-open.
	HalfOpenRequests uint32
}

// DefaultConfig opens after 5 consecutive failures for 60 seconds.
func DefaultConfig() Config {
	return Config{
		Name:             "structured-extraction",
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker guards calls to an external service. One instance is shared by
// every job in the process because it tracks the health of the service.
//
// A call abandoned by its caller is neither a success nor a failure: it does
// not extend the failure streak and it does not reset it. While half-open an
// abandoned trial sends the breaker back to open without counting a trip,
// since the trial slot can only be released with an outcome.
type Breaker struct {
	cb    *gobreaker.TwoStepCircuitBreaker[any]
	trips atomic.Int64
	log   zerolog.Logger

	// mu serializes outcome reporting with the bookkeeping below.
	mu sync.Mutex
	// abandoned counts cancelled calls inside the current failure streak.
	abandoned uint32
	// epoch changes with every state change.
	epoch        uint64
	suppressTrip bool
}

// New builds a breaker from cfg.
func New(cfg Config, log zerolog.Logger) *Breaker {
	d := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = d.Name
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = d.HalfOpenRequests
	}

	b := &Breaker{log: log}
	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.Cooldown,
		// Called with b.mu held.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures-b.abandoned >= threshold
		},
		// Called with b.mu held.
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.epoch++
			b.abandoned = 0
			if to == gobreaker.StateOpen && !b.suppressTrip {
				b.trips.Add(1)
			}
			b.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return b
}

// Do runs fn unless the breaker is open. A rejected call returns an error
// wrapping domain.ErrServiceUnavailable without invoking fn. When fn fails
// after ctx is done, or with context.Canceled, the call does not count
// against the service.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	done, err := b.cb.Allow()
	epoch := b.epoch
	b.mu.Unlock()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
		}
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.report(done, epoch, false, false)
			panic(r)
		}
	}()
	err = fn()
	success := err == nil
	b.report(done, epoch, success, !success && abandoned(ctx, err))
	return err
}

func (b *Breaker) report(done func(bool), epoch uint64, success, cancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cancelled && epoch == b.epoch {
		if b.cb.State() == gobreaker.StateHalfOpen {
			b.suppressTrip = true
		} else {
			b.abandoned++
		}
	}
	done(success)
	b.suppressTrip = false
	if success {
		b.abandoned = 0
	}
}

func abandoned(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || (ctx != nil && ctx.Err() != nil)
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb.State().String()
}

// Trips returns how many times the breaker has opened since start.
func (b *Breaker) Trips() int64 {
	return b.trips.Load()
}
