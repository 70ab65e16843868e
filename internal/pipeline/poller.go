package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/repository"
)

// Poller re-triggers pending jobs and processing jobs whose lease expired,
// which is how work lost with an in-memory queue gets picked up again.
type Poller struct {
	Jobs     repository.ResumableLister
	Service  *Service
	Interval time.Duration
	Batch    int
}

// Poll runs one pass and returns how many jobs were enqueued.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	list, err := p.Jobs.ListResumable(ctx, repository.ResumableFilter{Now: p.Service.now(), Limit: p.Batch})
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, job := range list {
		res, err := p.Service.Trigger(ctx, job.ID, "")
		switch {
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			return enqueued, err
		case res.Enqueued:
			enqueued++
			log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Int("attempts", job.Attempts).Msg("Resumable import enqueued")
		}
	}
	return enqueued, nil
}

// Run polls every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Msg("Resumable import poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
