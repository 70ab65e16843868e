package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/statement-importer/internal/dedup"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/extraction"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/repository"
	"github.com/dvloznov/statement-importer/internal/sizer"
	"github.com/dvloznov/statement-importer/internal/validator"
)

// Stage names recorded in job metadata.
const (
	StageFetch          = "fetch"
	StageTextExtraction = "text_extraction"
	StageSizing         = "sizing"
	StageExtraction     = "extraction"
	StageValidation     = "validation"
	StageDeduplication  = "deduplication"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps for one job.
type PipelineState struct {
	Job *domain.ImportJob
	// Metadata collects diagnostics; the service merges it into the job.
	Metadata domain.Metadata

	File       []byte
	Text       string
	PageCount  int
	Plan       sizer.Plan
	Extracted  []domain.CandidateTransaction
	Candidates []domain.CandidateTransaction
	Confidence *float64

	Stages      []domain.StageCount
	FailedStage string

	in, out int
}

// NewPipelineState starts a state for job.
func NewPipelineState(job *domain.ImportJob) *PipelineState {
	return &PipelineState{Job: job, Metadata: domain.Metadata{}}
}

// Count records the items that entered and left the running step.
func (s *PipelineState) Count(in, out int) {
	s.in, s.out = in, out
}

// FetchFileStep reads the statement from object storage.
type FetchFileStep struct {
	Files FileFetcher
}

func (s *FetchFileStep) Name() string { return StageFetch }

func (s *FetchFileStep) Execute(ctx context.Context, state *PipelineState) error {
	ref := state.Job.File
	data, err := s.Files.GetBytes(ctx, ref.Path)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ref.Path, err)
	}
	if ref.SHA256 != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != ref.SHA256 {
			return fmt.Errorf("fetch %s: checksum %s does not match recorded %s", ref.Path, got, ref.SHA256)
		}
	}
	state.File = data
	state.Count(1, 1)
	return nil
}

// ExtractTextStep converts the file into text with page separators.
type ExtractTextStep struct {
	Extractor TextExtractor
}

func (s *ExtractTextStep) Name() string { return StageTextExtraction }

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	mimeType := state.Job.File.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(state.File)
	}
	res, err := s.Extractor.Extract(ctx, state.File, mimeType)
	if err != nil {
		return err
	}

	state.Text = res.Text
	state.PageCount = res.PageCount
	state.File = nil
	state.Metadata[domain.MetaTextMethod] = res.Method
	state.Metadata[domain.MetaPageCount] = res.PageCount
	state.Count(1, res.PageCount)
	return nil
}

// PlanPayloadStep chooses full, filtered or chunked submission.
type PlanPayloadStep struct {
	Config sizer.Config
}

func (s *PlanPayloadStep) Name() string { return StageSizing }

func (s *PlanPayloadStep) Execute(ctx context.Context, state *PipelineState) error {
	plan := sizer.New(state.Text, state.PageCount, s.Config)
	state.Plan = plan
	state.Job.ParsingMethod = domain.ParsingMethod(plan.Strategy)

	state.Metadata[domain.MetaEstimatedTransactions] = plan.EstimatedCount
	state.Metadata[domain.MetaPayloadStrategy] = string(plan.Strategy)
	state.Metadata[domain.MetaChunked] = plan.Strategy == sizer.StrategyChunked
	state.Metadata[domain.MetaFiltered] = plan.Strategy == sizer.StrategyFiltered
	state.Metadata[domain.MetaChunkCount] = len(plan.Chunks)

	log := logger.FromContext(ctx)
	log.Info().
		Str("strategy", string(plan.Strategy)).
		Int("text_length", plan.TextLength).
		Int("pages", plan.PageCount).
		Int("estimated", plan.EstimatedCount).
		Int("chunks", len(plan.Chunks)).
		Msg("Payload planned")

	state.Count(plan.EstimatedCount, len(plan.Chunks))
	return nil
}

// ExtractTransactionsStep sends the planned chunks to the provider.
type ExtractTransactionsStep struct {
	Client TransactionExtractor
}

func (s *ExtractTransactionsStep) Name() string { return StageExtraction }

func (s *ExtractTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Metadata[domain.MetaProvider] = s.Client.ProviderName()

	res, err := s.Client.Extract(ctx, state.Job.ID, state.Plan.Chunks)
	if res != nil {
		recordExtraction(state, res)
	}
	if err != nil {
		return err
	}

	state.Extracted = res.Transactions
	state.Count(len(state.Plan.Chunks), len(res.Transactions))
	return nil
}

func recordExtraction(state *PipelineState, res *extraction.Result) {
	state.Metadata[domain.MetaBreakerTrips] = res.BreakerTrips
	state.Metadata[domain.MetaBreakerRejections] = res.BreakerRejections
	state.Metadata[domain.MetaProviderCalls] = res.ProviderCalls
	state.Metadata[domain.MetaResumedChunks] = res.ResumedChunks
	if len(res.Warnings) > 0 {
		state.Metadata[domain.MetaWarnings] = res.Warnings
	}
}

// ValidateStep scores candidates against the statement text.
type ValidateStep struct {
	Config validator.Config
}

func (s *ValidateStep) Name() string { return StageValidation }

func (s *ValidateStep) Execute(ctx context.Context, state *PipelineState) error {
	res := validator.New(s.Config, state.Text).Validate(state.Extracted)

	state.Candidates = res.Kept
	state.Confidence = res.Confidence
	state.Metadata[domain.MetaDiscards] = res.Discards
	if res.Discards == nil {
		state.Metadata[domain.MetaDiscards] = []domain.Discard{}
	}

	if len(res.Discards) > 0 {
		log := logger.FromContext(ctx)
		log.Info().
			Int("discarded", len(res.Discards)).
			Int("kept", len(res.Kept)).
			Msg("Validator discarded candidates")
	}
	state.Count(len(state.Extracted), len(res.Kept))
	return nil
}

// DeduplicateStep drops candidates already stored for the account.
type DeduplicateStep struct {
	Transactions repository.TransactionRepository
}

func (s *DeduplicateStep) Name() string { return StageDeduplication }

func (s *DeduplicateStep) Execute(ctx context.Context, state *PipelineState) error {
	keys, err := s.Transactions.ListTransactionKeys(ctx, state.Job.AccountID)
	if err != nil {
		return fmt.Errorf("list existing keys: %w", err)
	}

	in := len(state.Candidates)
	res := dedup.Deduplicate(state.Job.AccountID, state.Candidates, keys)
	state.Candidates = res.Kept
	state.Metadata[domain.MetaDuplicates] = len(res.Duplicates)
	state.Count(in, len(res.Kept))
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
	now   func() time.Time
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps, now: time.Now}
}

// Execute runs all steps sequentially, recording a StageCount per finished
// step. The first failure stops the run and is returned as a *domain.StageError.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			state.FailedStage = step.Name()
			return fmt.Errorf("pipeline step %d failed: %w", i+1, &domain.StageError{Stage: step.Name(), Err: err})
		}

		start := p.now()
		state.in, state.out = 0, 0
		err := step.Execute(ctx, state)
		elapsed := p.now().Sub(start)

		if err != nil {
			state.FailedStage = step.Name()
			return fmt.Errorf("pipeline step %d failed: %w", i+1, &domain.StageError{Stage: step.Name(), Err: err})
		}
		state.Stages = append(state.Stages, domain.StageCount{
			Stage:      step.Name(),
			In:         state.in,
			Out:        state.out,
			DurationMS: elapsed.Milliseconds(),
		})
	}
	return nil
}

// Steps returns the standard import steps wired to the given collaborators.
func Steps(files FileFetcher, text TextExtractor, client TransactionExtractor, txs repository.TransactionRepository, sizerCfg sizer.Config, validatorCfg validator.Config) []PipelineStep {
	return []PipelineStep{
		&FetchFileStep{Files: files},
		&ExtractTextStep{Extractor: text},
		&PlanPayloadStep{Config: sizerCfg},
		&ExtractTransactionsStep{Client: client},
		&ValidateStep{Config: validatorCfg},
		&DeduplicateStep{Transactions: txs},
	}
}
