// Package app assembles the import service and its stores from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/breaker"
	"github.com/dvloznov/statement-importer/internal/commit"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/extraction"
	"github.com/dvloznov/statement-importer/internal/gemini"
	infraBQ "github.com/dvloznov/statement-importer/internal/infra/bigquery"
	"github.com/dvloznov/statement-importer/internal/infra/postgres"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-importer/internal/objectstore"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/repository"
	"github.com/dvloznov/statement-importer/internal/textextract"
)

// App holds the wired service and the resources it owns.
type App struct {
	Store   repository.Store
	Files   *objectstore.Store
	Service *pipeline.Service
	Events  *pipeline.Broadcaster
	Breaker *breaker.Breaker
}

// Options are the collaborators chosen by the calling command.
type Options struct {
	// Publisher enqueues triggered runs; nil disables Trigger.
	Publisher jobs.Publisher
	// Generator overrides the Gemini client.
	Generator gemini.Generator
	// Files overrides object storage.
	Files *objectstore.Store
}

// New opens the configured store and object storage and builds the service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	store, err := OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	files := opts.Files
	if files == nil {
		files, err = objectstore.New(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("GCS unavailable, only local files can be imported")
			files = objectstore.NewWithClient(nil)
		}
	}

	gen := opts.Generator
	if gen == nil {
		gen, err = gemini.NewGenerator(ctx)
		if err != nil {
			if cfg.Gemini.Provider == "gemini" {
				_ = store.Close()
				_ = files.Close()
				return nil, fmt.Errorf("app.New: %w", err)
			}
			log.Warn().Err(err).Msg("Gemini unavailable, OCR fallback disabled")
			gen = nil
		}
	}

	br := breaker.New(cfg.Breaker, log)
	events := pipeline.NewBroadcaster()

	var provider extraction.Provider
	if cfg.Gemini.Provider == "regex" {
		provider = extraction.NewRegexProvider()
	} else {
		provider = extraction.NewGeminiProvider(gen, cfg.Gemini.Model, cfg.Gemini.MaxOutputTokens, cfg.Extraction.MaxOutputChars)
	}

	text := []textextract.Extractor{textextract.NewPlainTextExtractor(), textextract.NewPDFExtractor()}
	if gen != nil {
		text = append(text, textextract.NewGeminiOCRExtractor(gen, cfg.Gemini.OCRModel, cfg.Gemini.MaxOutputTokens))
	}

	steps := pipeline.NewPipeline(
		&pipeline.FetchFileStep{Files: files},
		&pipeline.ExtractTextStep{Extractor: textextract.NewChain(text...)},
		&pipeline.PlanPayloadStep{Config: cfg.Sizer},
		&pipeline.ExtractTransactionsStep{Client: extraction.NewClient(provider, br, store, cfg.Extraction)},
		&pipeline.ValidateStep{Config: cfg.Validator},
		&pipeline.DeduplicateStep{Transactions: store},
	)

	svc := pipeline.NewService(pipeline.Deps{
		Store:     store,
		Pipeline:  steps,
		Committer: commit.NewWriter(store, 0),
		Publisher: opts.Publisher,
		Events:    events,
	}, pipeline.Config{
		JobTimeout: cfg.Pipeline.JobTimeout,
		LeaseTTL:   cfg.Pipeline.LeaseTTL,
	})

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("provider", provider.Name()).
		Int("text_extractors", len(text)).
		Msg("Import service ready")

	return &App{
		Store:   store,
		Files:   files,
		Service: svc,
		Events:  events,
		Breaker: br,
	}, nil
}

// Close releases the store and storage clients.
func (a *App) Close() error {
	return errors.Join(a.Store.Close(), a.Files.Close())
}

// OpenStore connects the backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (repository.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory, "":
		log.Warn().Msg("Using the in-memory store, imports are lost on restart")
		return inmemory.NewStore(), nil
	case config.StoreBigQuery:
		store, err := infraBQ.NewStore(ctx, infraBQ.Dataset{ProjectID: cfg.BigQueryProject, DatasetID: cfg.BigQueryDataset})
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: cfg.PostgresDSN, MaxConns: cfg.PostgresMaxConn}, log)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return postgres.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.Backend)
	}
}
