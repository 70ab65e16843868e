package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/objectstore"
	"github.com/dvloznov/statement-importer/internal/pipeline"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create":
		runCreate(log)
	case "run":
		runRun(log)
	case "status":
		runStatus(log)
	case "candidates":
		runCandidates(log)
	case "commit":
		runCommit(log)
	case "upload":
		runUpload(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Importer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  create      Register a statement file as a pending import")
	fmt.Println("  run         Run the extraction pipeline synchronously")
	fmt.Println("  status      Show an import and its diagnostics")
	fmt.Println("  candidates  List the candidates held for review")
	fmt.Println("  commit      Commit reviewed candidates")
	fmt.Println("  upload      Upload a statement file to GCS")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func setup(log zerolog.Logger) (context.Context, *app.App) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = log.Level(logger.ParseLevel(cfg.Log.Level))
	ctx := logger.WithContext(context.Background(), log)

	application, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize import service")
	}
	return ctx, application
}

func runCreate(log zerolog.Logger) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	userID := fs.String("user", "", "Owner user ID")
	accountID := fs.String("account", "", "Target account ID")
	filePath := fs.String("file", "", "Path to the local statement file")
	bucket := fs.String("bucket", os.Getenv("GCS_BUCKET"), "Upload to this GCS bucket first (or set GCS_BUCKET env)")
	fs.Parse(os.Args[2:])

	if *userID == "" || *accountID == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli create -user ID -account ID -file PATH [-bucket NAME]")
	}

	ctx, application := setup(log)
	defer application.Close()

	job := createJob(ctx, log, application, *userID, *accountID, *filePath, *bucket)
	fmt.Printf("Created import %s (%s)\n", job.ID, job.File.Path)
}

func createJob(ctx context.Context, log zerolog.Logger, application *app.App, userID, accountID, filePath, bucket string) *domain.ImportJob {
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("Failed to read statement")
	}
	ref := fileRef(filePath, data)

	if bucket != "" {
		uri, err := application.Files.Upload(ctx, bucket, objectstore.ObjectName(userID, accountID, filePath), filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Upload failed")
		}
		ref.Path = uri
	} else if abs, err := filepath.Abs(filePath); err == nil {
		ref.Path = abs
	}

	job, err := application.Service.CreateJob(ctx, pipeline.CreateJobRequest{
		UserID:    userID,
		AccountID: accountID,
		File:      ref,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create import")
	}
	return job
}

func runRun(log zerolog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	jobID := fs.String("id", "", "Import ID to run")
	userID := fs.String("user", "", "Owner user ID (with -file)")
	accountID := fs.String("account", "", "Target account ID (with -file)")
	filePath := fs.String("file", "", "Create an import for this local file and run it")
	fs.Parse(os.Args[2:])

	if *jobID == "" && (*filePath == "" || *userID == "" || *accountID == "") {
		log.Fatal().Msg("Usage: cli run -id ID | cli run -user ID -account ID -file PATH")
	}

	ctx, application := setup(log)
	defer application.Close()

	id := *jobID
	if id == "" {
		id = createJob(ctx, log, application, *userID, *accountID, *filePath, "").ID
	}

	runErr := application.Service.Run(ctx, id)

	job, err := application.Service.GetStatus(ctx, id, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load import")
	}
	printJob(os.Stdout, job)
	if runErr != nil {
		log.Fatal().Err(runErr).Msg("Run did not finish")
	}

	if job.Status == domain.StatusReview {
		candidates, err := application.Service.ListCandidates(ctx, id, "")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load candidates")
		}
		printCandidates(os.Stdout, candidates)
	}
}

func runStatus(log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jobID := fs.String("id", "", "Import ID")
	userID := fs.String("user", "", "Owner user ID (optional)")
	asJSON := fs.Bool("json", false, "Print the raw job record")
	fs.Parse(os.Args[2:])

	if *jobID == "" {
		log.Fatal().Msg("Error: -id is required")
	}

	ctx, application := setup(log)
	defer application.Close()

	job, err := application.Service.GetStatus(ctx, *jobID, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load import")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(job)
		return
	}
	printJob(os.Stdout, job)
}

func runCandidates(log zerolog.Logger) {
	fs := flag.NewFlagSet("candidates", flag.ExitOnError)
	jobID := fs.String("id", "", "Import ID")
	userID := fs.String("user", "", "Owner user ID (optional)")
	fs.Parse(os.Args[2:])

	if *jobID == "" {
		log.Fatal().Msg("Error: -id is required")
	}

	ctx, application := setup(log)
	defer application.Close()

	candidates, err := application.Service.ListCandidates(ctx, *jobID, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load candidates")
	}
	printCandidates(os.Stdout, candidates)
}

func runCommit(log zerolog.Logger) {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	jobID := fs.String("id", "", "Import ID")
	userID := fs.String("user", "", "Owner user ID (optional)")
	editsPath := fs.String("edits", "", "JSON file with the edited candidate list")
	fs.Parse(os.Args[2:])

	if *jobID == "" {
		log.Fatal().Msg("Error: -id is required")
	}

	var edited []domain.CandidateTransaction
	if *editsPath != "" {
		var err error
		edited, err = readEdits(*editsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read edits")
		}
	}

	ctx, application := setup(log)
	defer application.Close()

	job, err := application.Service.CommitReview(ctx, *jobID, *userID, edited)
	if err != nil {
		log.Fatal().Err(err).Msg("Commit failed")
	}
	printJob(os.Stdout, job)
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local statement file")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx := logger.WithContext(context.Background(), log)

	files, err := objectstore.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer files.Close()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	uri, err := files.Upload(ctx, *bucketName, *objectName, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
}
