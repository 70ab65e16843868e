package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	interval := flag.Duration("interval", cfg.Pipeline.PollInterval, "How often to look for resumable imports")
	batch := flag.Int("batch", 50, "Maximum jobs enqueued per poll")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	jobQueue := inmemory.NewQueue(inmemory.QueueConfig{
		BufferSize: cfg.Pipeline.QueueSize,
		Workers:    cfg.Pipeline.Workers,
		MaxRetries: 3,
	}, log)

	application, err := app.New(ctx, cfg, log, app.Options{Publisher: jobQueue})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize import service")
	}
	defer application.Close()

	lister, ok := application.Store.(repository.ResumableLister)
	if !ok {
		log.Fatal().Str("store", cfg.Store.Backend).Msg("Store cannot list resumable imports")
	}

	// Start consuming tasks
	if err := jobQueue.Start(ctx, application.Service.HandleTask); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	poller := &pipeline.Poller{
		Jobs:     lister,
		Service:  application.Service,
		Interval: *interval,
		Batch:    *batch,
	}
	go func() {
		_ = poller.Run(ctx)
	}()

	log.Info().Dur("interval", *interval).Msg("Worker service started, polling for imports...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop the poller and workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
