package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/logger"
)

var (
	backend       = flag.String("backend", envOr("STORE_BACKEND", "bigquery"), "Target store: bigquery or postgres")
	projectID     = flag.String("project", os.Getenv("BIGQUERY_PROJECT"), "GCP project ID (bigquery)")
	datasetID     = flag.String("dataset", envOr("BIGQUERY_DATASET", "imports"), "BigQuery dataset ID")
	dsn           = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (postgres)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<backend>)")
	dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

// Migrator applies migration files to one store.
type Migrator interface {
	EnsureSchemaMigrations(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply runs the migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

func main() {
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *backend
	}

	var (
		migrator     Migrator
		replacements map[string]string
		err          error
	)
	switch *backend {
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("Error: -project flag is required. Please specify your GCP project ID.")
		}
		replacements = map[string]string{"{{PROJECT_ID}}": *projectID, "{{DATASET_ID}}": *datasetID}
		migrator, err = newBigQueryMigrator(ctx, *projectID, *datasetID)
	case "postgres":
		if *dsn == "" {
			log.Fatal().Msg("Error: -dsn flag or DATABASE_URL is required for postgres")
		}
		migrator, err = newPostgresMigrator(ctx, *dsn, log)
	default:
		log.Fatal().Str("backend", *backend).Msg("Unknown backend")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer migrator.Close()

	if err := run(ctx, log, migrator, dir, replacements); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, log zerolog.Logger, migrator Migrator, dir string, replacements map[string]string) error {
	// Ensure schema_migrations table exists
	if err := migrator.EnsureSchemaMigrations(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(resolveDir(dir), replacements)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := migrator.Applied(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, changed := plan(migrations, applied)
	for _, m := range changed {
		log.Warn().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration file has changed since it ran")
	}

	for _, m := range pending {
		if *dryRun {
			log.Info().Msgf("  [PENDING] %04d_%s", m.Version, m.Name)
			continue
		}
		log.Info().Msgf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := migrator.Apply(ctx, m, *appliedBy); err != nil {
			return fmt.Errorf("apply %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Msgf("  [OK]   %04d_%s", m.Version, m.Name)
	}

	switch {
	case len(pending) == 0:
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	case *dryRun:
		log.Info().Int("pending", len(pending)).Msg("Dry run, nothing applied")
	default:
		log.Info().Int("applied", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}

// resolveDir also looks two levels up, for runs from cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) && !strings.HasPrefix(dir, "/") {
		if _, err := os.Stat("../../" + dir); err == nil {
			return "../../" + dir
		}
	}
	return dir
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
