package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-importer/internal/api/handlers"
	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-importer/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := logger.WithContext(context.Background(), log)

	// Initialize job infrastructure
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

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Pipeline.Workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, application.Service.HandleTask); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Create router
	mux := http.NewServeMux()
	handlers.NewImportsHandler(application.Service, cfg.Pipeline.PollInterval, log).Register(mux)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"breaker": application.Breaker.State(),
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(middleware.AuthConfig{
						JWTSecret:   cfg.Auth.JWTSecret,
						AllowHeader: cfg.Auth.AllowHeader,
						Public:      []string{"/health"},
					})(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs. Interrupted runs stay
	// processing and are resumed by the worker once their lease expires.
	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
