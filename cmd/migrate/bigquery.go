package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigQueryMigrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func newBigQueryMigrator(ctx context.Context, projectID, datasetID string) (*bigQueryMigrator, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	return &bigQueryMigrator{client: client, projectID: projectID, datasetID: datasetID}, nil
}

func (b *bigQueryMigrator) Close() error { return b.client.Close() }

func (b *bigQueryMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.projectID, b.datasetID)
}

func (b *bigQueryMigrator) EnsureSchemaMigrations(ctx context.Context) error {
	return b.exec(ctx, b.client.Query(`
		CREATE TABLE IF NOT EXISTS `+b.table()+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`))
}

func (b *bigQueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	it, err := b.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + b.table() + `
		ORDER BY version ASC
	`).Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the migration then records it. BigQuery DDL is not
// transactional, so a failure between the two leaves the DDL applied; the
// migration files use IF NOT EXISTS for that reason.
func (b *bigQueryMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.exec(ctx, b.client.Query(m.SQL)); err != nil {
		return err
	}

	q := b.client.Query(`
		INSERT INTO ` + b.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := b.exec(ctx, q); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

func (b *bigQueryMigrator) exec(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
