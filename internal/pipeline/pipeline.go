// Package pipeline drives an import job through text extraction, sizing,
// structured extraction, validation and deduplication, holds the result
// for review and finalizes it on commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/repository"
	"github.com/dvloznov/statement-importer/internal/validator"
)

// Config holds the per-job budgets.
type Config struct {
	// JobTimeout is the wall-clock budget of one pipeline execution.
	JobTimeout time.Duration
	// LeaseTTL is how long a claim stays exclusive. It must exceed JobTimeout.
	LeaseTTL time.Duration
}

// DefaultConfig returns the budgets used when none are configured.
func DefaultConfig() Config {
	return Config{
		JobTimeout: 10 * time.Minute,
		LeaseTTL:   15 * time.Minute,
	}
}

// Deps are the collaborators of the service.
type Deps struct {
	Store     repository.Store
	Pipeline  *Pipeline
	Committer Committer
	// Publisher enqueues asynchronous runs; only Trigger needs it.
	Publisher jobs.Publisher
	// Events receives every persisted job change; may be nil.
	Events *Broadcaster
}

// Service is the import state machine.
type Service struct {
	store     repository.Store
	pipeline  *Pipeline
	committer Committer
	publisher jobs.Publisher
	events    *Broadcaster
	cfg       Config
	now       func() time.Time
	newID     func() string
}

// NewService creates the service.
func NewService(deps Deps, cfg Config) *Service {
	d := DefaultConfig()
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = d.JobTimeout
	}
	if cfg.LeaseTTL <= cfg.JobTimeout {
		cfg.LeaseTTL = cfg.JobTimeout + d.LeaseTTL - d.JobTimeout
	}
	return &Service{
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		committer: deps.Committer,
		publisher: deps.Publisher,
		events:    deps.Events,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateJobRequest describes an uploaded statement.
type CreateJobRequest struct {
	UserID    string
	AccountID string
	File      domain.FileRef
}

// CreateJob records a new pending job. It is the ingestion collaborator's
// entry point and does not start processing.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.ImportJob, error) {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, fmt.Errorf("CreateJob: user id is required")
	case strings.TrimSpace(req.AccountID) == "":
		return nil, fmt.Errorf("CreateJob: account id is required")
	case strings.TrimSpace(req.File.Path) == "":
		return nil, fmt.Errorf("CreateJob: file path is required")
	}

	now := s.now().UTC()
	job := &domain.ImportJob{
		ID:        s.newID(),
		AccountID: req.AccountID,
		UserID:    req.UserID,
		File:      req.File,
		Status:    domain.StatusPending,
		Metadata:  domain.Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("CreateJob: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("job_id", job.ID).
		Str("account_id", job.AccountID).
		Str("path", job.File.Path).
		Msg("Import job created")
	return job, nil
}

// TriggerResult tells the caller what Trigger did.
type TriggerResult struct {
	Job *domain.ImportJob
	// Enqueued is false when a live execution already owns the job.
	Enqueued bool
}

// Trigger accepts a job for asynchronous processing. Triggering a job that
// is already processing under a live lease is accepted without starting a
// second run. A job whose lease expired is enqueued again and resumes.
func (s *Service) Trigger(ctx context.Context, id, userID string) (*TriggerResult, error) {
	job, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("Trigger: %w", err)
	}

	if job.LeaseActive(s.now()) {
		return &TriggerResult{Job: job}, nil
	}
	if job.Status != domain.StatusPending && job.Status != domain.StatusProcessing {
		return nil, fmt.Errorf("Trigger: %w", &domain.TransitionError{From: job.Status, To: domain.StatusProcessing})
	}
	if s.publisher == nil {
		return nil, fmt.Errorf("Trigger: no task publisher configured")
	}

	if err := s.publisher.PublishImport(ctx, &jobs.ImportTask{ImportJobID: job.ID}); err != nil {
		return nil, fmt.Errorf("Trigger: enqueue: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("job_id", job.ID).Msg("Import triggered")
	return &TriggerResult{Job: job, Enqueued: true}, nil
}

// HandleTask is the queue handler. Timeouts are reported as retryable.
func (s *Service) HandleTask(ctx context.Context, task *jobs.ImportTask) error {
	err := s.Run(ctx, task.ImportJobID)
	if errors.Is(err, domain.ErrTimeout) {
		return jobs.Retryable(err)
	}
	return err
}

// Run executes the pipeline for one job synchronously. Pipeline failures are
// recorded on the job and not returned; the returned error covers store
// failures and ErrTimeout, after which the job is left processing and a
// later Run resumes it.
func (s *Service) Run(ctx context.Context, id string) error {
	ctx = logger.WithJob(ctx, id)
	log := logger.FromContext(ctx)

	now := s.now()
	job, err := s.store.ClaimJob(ctx, id,
		[]domain.ImportStatus{domain.StatusPending, domain.StatusProcessing},
		now.Add(s.cfg.LeaseTTL), now)
	if errors.Is(err, domain.ErrAlreadyProcessing) {
		log.Info().Msg("Import already processing, skipping run")
		return nil
	}
	// A duplicate delivery can arrive after the job moved on.
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Info().Err(err).Msg("Import no longer runnable, skipping run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("Run: claim: %w", err)
	}
	s.publish(job)

	// A commit that stopped midway is finished, never re-extracted.
	if job.Metadata.String(domain.MetaPhase) == domain.PhaseCommit {
		log.Warn().Msg("Resuming interrupted commit")
		candidates, err := s.store.LoadCandidates(ctx, id)
		if err != nil {
			return fmt.Errorf("Run: load candidates: %w", err)
		}
		if _, err := s.finishCommit(ctx, job, candidates); err != nil {
			return fmt.Errorf("Run: %w", err)
		}
		return nil
	}

	log.Info().Int("attempt", job.Attempts).Msg("Import run started")

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	state := NewPipelineState(job)
	runErr := s.pipeline.Execute(runCtx, state)

	// The run context may be done; bookkeeping uses the caller's context.
	return s.finishRun(context.WithoutCancel(ctx), job, state, runErr, runCtx.Err() != nil)
}

func (s *Service) finishRun(ctx context.Context, job *domain.ImportJob, state *PipelineState, runErr error, interrupted bool) error {
	log := logger.FromContext(ctx)
	now := s.now().UTC()

	for k, v := range state.Metadata {
		job.Metadata[k] = v
	}
	job.Metadata[domain.MetaStages] = state.Stages
	delete(job.Metadata, domain.MetaFailedStage)
	job.UpdatedAt = now

	switch {
	case runErr == nil:
		if err := s.store.SaveCandidates(ctx, job.ID, state.Candidates); err != nil {
			return fmt.Errorf("Run: save candidates: %w", err)
		}
		job.Status = domain.StatusReview
		job.TotalTransactions = len(state.Candidates)
		job.ImportedTransactions = 0
		job.FailedTransactions = 0
		job.Confidence = state.Confidence
		job.ErrorMessage = nil
		job.LeaseExpiresAt = nil
		delete(job.Metadata, domain.MetaTimeout)
		if len(state.Candidates) == 0 {
			job.SetError(domain.ErrNoTransactionsFound.Error())
		}
		log.Info().
			Int("candidates", job.TotalTransactions).
			Str("parsing_method", string(job.ParsingMethod)).
			Msg("Import ready for review")

	case errors.Is(runErr, context.DeadlineExceeded) || interrupted:
		// The provider may still finish server-side; a later run resumes from checkpoints.
		job.LeaseExpiresAt = nil
		job.Metadata[domain.MetaTimeout] = map[string]any{
			"stage":      state.FailedStage,
			"budget":     s.cfg.JobTimeout.String(),
			"at":         now.Format(time.RFC3339),
			"retry_safe": true,
		}
		job.Metadata[domain.MetaFailedStage] = state.FailedStage
		log.Warn().Err(runErr).Str("stage", state.FailedStage).Msg("Import run stopped before finishing, left processing")
		if err := s.update(ctx, job); err != nil {
			return fmt.Errorf("Run: %w", err)
		}
		return fmt.Errorf("Run: job %s: %w", job.ID, domain.ErrTimeout)

	default:
		job.Status = domain.StatusFailed
		job.LeaseExpiresAt = nil
		job.CompletedAt = &now
		job.Metadata[domain.MetaFailedStage] = state.FailedStage
		msg := runErr.Error()
		if errors.Is(runErr, domain.ErrServiceUnavailable) {
			msg = "extraction service is temporarily unavailable, retry later: " + msg
		}
		job.SetError(msg)
		log.Error().Err(runErr).Str("stage", state.FailedStage).Msg("Import failed")
	}

	if err := s.update(ctx, job); err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	return nil
}

// GetStatus returns the current job record.
func (s *Service) GetStatus(ctx context.Context, id, userID string) (*domain.ImportJob, error) {
	job, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	return job, nil
}

// ListJobs returns the caller's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string, filter repository.JobFilter) ([]*domain.ImportJob, error) {
	filter.UserID = userID
	out, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	return out, nil
}

// ListCandidates returns the candidates held for review.
func (s *Service) ListCandidates(ctx context.Context, id, userID string) ([]domain.CandidateTransaction, error) {
	if _, err := s.getOwned(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("ListCandidates: %w", err)
	}
	out, err := s.store.LoadCandidates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ListCandidates: %w", err)
	}
	return out, nil
}

// CommitReview finalizes a job in review. When edited is non-nil it
// replaces the stored candidates; edited rows have their classification
// inferred and their sign normalized first.
func (s *Service) CommitReview(ctx context.Context, id, userID string, edited []domain.CandidateTransaction) (*domain.ImportJob, error) {
	ctx = logger.WithJob(ctx, id)
	if _, err := s.getOwned(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("CommitReview: %w", err)
	}

	now := s.now()
	job, err := s.store.ClaimJob(ctx, id, []domain.ImportStatus{domain.StatusReview}, now.Add(s.cfg.LeaseTTL), now)
	if err != nil {
		return nil, fmt.Errorf("CommitReview: claim: %w", err)
	}
	s.publish(job)

	candidates := edited
	if edited != nil {
		candidates = make([]domain.CandidateTransaction, len(edited))
		for i, c := range edited {
			candidates[i], _ = validator.Normalize(c)
		}
		if err := s.store.SaveCandidates(ctx, id, candidates); err != nil {
			return nil, s.abandonCommit(ctx, job, fmt.Errorf("CommitReview: save edits: %w", err))
		}
	} else {
		candidates, err = s.store.LoadCandidates(ctx, id)
		if err != nil {
			return nil, s.abandonCommit(ctx, job, fmt.Errorf("CommitReview: load candidates: %w", err))
		}
	}

	job.Metadata[domain.MetaPhase] = domain.PhaseCommit
	job.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, job); err != nil {
		delete(job.Metadata, domain.MetaPhase)
		return nil, s.abandonCommit(ctx, job, fmt.Errorf("CommitReview: %w", err))
	}

	job, err = s.finishCommit(ctx, job, candidates)
	if err != nil {
		return nil, fmt.Errorf("CommitReview: %w", err)
	}
	return job, nil
}

// finishCommit stores the candidates of a job in the commit phase and
// records the final status. It is safe to repeat: rows stored by an
// earlier attempt count as imported.
func (s *Service) finishCommit(ctx context.Context, job *domain.ImportJob, candidates []domain.CandidateTransaction) (*domain.ImportJob, error) {
	out := s.committer.Commit(ctx, job, candidates)

	done := s.now().UTC()
	job.TotalTransactions = len(candidates)
	job.ImportedTransactions = out.Imported
	job.FailedTransactions = out.Failed
	job.Status = out.Status()
	job.LeaseExpiresAt = nil
	job.CompletedAt = &done
	job.UpdatedAt = done
	job.ErrorMessage = nil
	delete(job.Metadata, domain.MetaPhase)
	if out.Failed > 0 {
		job.Metadata[domain.MetaCommitErrors] = out.Errors
		job.SetError(out.Err().Error())
	}

	if err := s.update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// abandonCommit puts a claimed job back into review when the commit could
// not start, so the user can try again.
func (s *Service) abandonCommit(ctx context.Context, job *domain.ImportJob, cause error) error {
	job.Status = domain.StatusReview
	job.LeaseExpiresAt = nil
	job.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to return job to review")
	}
	return cause
}

// Subscribe streams job snapshots. The current state is delivered first.
func (s *Service) Subscribe(ctx context.Context, id, userID string) (<-chan *domain.ImportJob, func(), error) {
	job, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("Subscribe: %w", err)
	}
	if s.events == nil {
		return nil, nil, fmt.Errorf("Subscribe: status events are not enabled")
	}

	ch, cancel := s.events.Subscribe(id)
	out := make(chan *domain.ImportJob, subscriberBuffer+1)
	out <- job
	go func() {
		defer close(out)
		for j := range ch {
			select {
			case out <- j:
			default:
			}
		}
	}()
	return out, cancel, nil
}

func (s *Service) getOwned(ctx context.Context, id, userID string) (*domain.ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	// Foreign jobs look missing so ids cannot be enumerated.
	if userID != "" && job.UserID != userID {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (s *Service) update(ctx context.Context, job *domain.ImportJob) error {
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.publish(job)
	return nil
}

func (s *Service) publish(job *domain.ImportJob) {
	if s.events != nil {
		s.events.Publish(job)
	}
}
