package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-importer/internal/breaker"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/sizer"
)

// Config tunes chunk fan-out and the per-call output ceiling.
type Config struct {
	// MaxConcurrency bounds the number of chunks in flight for one job.
	MaxConcurrency int
	// MaxOutputChars rejects model answers longer than this.
	MaxOutputChars int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		MaxOutputChars: 200000,
	}
}

// CheckpointStore persists per-chunk provider output for one job.
type CheckpointStore interface {
	LoadChunkCheckpoints(ctx context.Context, jobID string) ([]domain.ChunkCheckpoint, error)
	SaveChunkCheckpoint(ctx context.Context, jobID string, cp domain.ChunkCheckpoint) error
}

// Result is the merged output for all chunks of one job.
type Result struct {
	// Transactions are in chunk order, each tagged with its ChunkIndex.
	Transactions []domain.CandidateTransaction
	Warnings     []string
	// ProviderCalls counts chunks actually sent to the provider.
	ProviderCalls int
	// ResumedChunks counts chunks served from checkpoints.
	ResumedChunks int
	// BreakerTrips is how often the shared breaker opened during this call.
	BreakerTrips int64
	// BreakerRejections counts chunks refused while the breaker was open.
	BreakerRejections int
}

// Client runs chunks through a Provider behind the shared breaker.
type Client struct {
	provider    Provider
	breaker     *breaker.Breaker
	checkpoints CheckpointStore
	cfg         Config
	now         func() time.Time
}

// NewClient creates a client. checkpoints may be nil, which disables resume.
func NewClient(provider Provider, br *breaker.Breaker, checkpoints CheckpointStore, cfg Config) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Client{
		provider:    provider,
		breaker:     br,
		checkpoints: checkpoints,
		cfg:         cfg,
		now:         time.Now,
	}
}

// ProviderName reports which provider is in use.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Extract sends every chunk that has no valid checkpoint to the provider,
// in parallel up to MaxConcurrency, and merges the results by chunk index.
// The first failing chunk cancels the rest; completed chunks stay
// checkpointed so a later run resumes from them.
func (c *Client) Extract(ctx context.Context, jobID string, chunks []sizer.Chunk) (*Result, error) {
	log := logger.FromContext(ctx)
	tripsBefore := c.breaker.Trips()

	done := make(map[int]domain.ChunkCheckpoint)
	if c.checkpoints != nil && jobID != "" {
		cps, err := c.checkpoints.LoadChunkCheckpoints(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("Extract: load checkpoints: %w", err)
		}
		for _, cp := range cps {
			done[cp.ChunkIndex] = cp
		}
	}

	perChunk := make([][]domain.CandidateTransaction, len(chunks))
	res := &Result{}
	var (
		calls      atomic.Int64
		rejections atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for i, chunk := range chunks {
		hash := contentHash(chunk.Text)
		if cp, ok := done[chunk.Index]; ok && cp.ContentHash == hash {
			perChunk[i] = cp.Transactions
			res.ResumedChunks++
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var txs []domain.CandidateTransaction
			err := c.breaker.Do(gctx, func() error {
				calls.Add(1)
				var callErr error
				txs, callErr = c.provider.ExtractTransactions(gctx, chunk.Text)
				return callErr
			})
			if errors.Is(err, domain.ErrServiceUnavailable) {
				rejections.Add(1)
			}
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Index, err)
			}

			for j := range txs {
				txs[j].ChunkIndex = chunk.Index
			}
			perChunk[i] = txs

			if c.checkpoints != nil && jobID != "" {
				cp := domain.ChunkCheckpoint{
					ChunkIndex:   chunk.Index,
					ContentHash:  hash,
					Transactions: txs,
					CreatedAt:    c.now().UTC(),
				}
				// Saved on the parent context so finished chunks survive a sibling failure.
				if err := c.checkpoints.SaveChunkCheckpoint(ctx, jobID, cp); err != nil {
					log.Warn().Err(err).Int("chunk", chunk.Index).Msg("Failed to save chunk checkpoint")
				}
			}
			return nil
		})
	}

	err := g.Wait()
	res.ProviderCalls = int(calls.Load())
	res.BreakerRejections = int(rejections.Load())
	res.BreakerTrips = c.breaker.Trips() - tripsBefore
	if err != nil {
		return res, fmt.Errorf("Extract: %w", err)
	}

	txs, warnings := mergeChunks(chunks, perChunk)
	res.Transactions = txs
	res.Warnings = append(res.Warnings, warnings...)

	log.Info().
		Str("provider", c.provider.Name()).
		Int("chunks", len(chunks)).
		Int("provider_calls", res.ProviderCalls).
		Int("resumed_chunks", res.ResumedChunks).
		Int("transactions", len(res.Transactions)).
		Msg("Structured extraction finished")

	return res, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
