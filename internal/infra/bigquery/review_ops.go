package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-importer/internal/domain"
)

const (
	candidatesTable  = "import_candidates"
	checkpointsTable = "import_chunk_checkpoints"
)

// CandidatesRow holds the candidates of one job in review as a JSON array.
type CandidatesRow struct {
	JobID     string            `bigquery:"job_id"`     // REQUIRED
	Payload   bigquery.NullJSON `bigquery:"payload"`    // JSON
	UpdatedTS time.Time         `bigquery:"updated_ts"` // REQUIRED
}

// CheckpointRow holds the provider output for one chunk.
type CheckpointRow struct {
	JobID       string            `bigquery:"job_id"`       // REQUIRED
	ChunkIndex  int64             `bigquery:"chunk_index"`  // REQUIRED
	ContentHash string            `bigquery:"content_hash"` // REQUIRED
	Payload     bigquery.NullJSON `bigquery:"payload"`      // JSON
	CreatedTS   time.Time         `bigquery:"created_ts"`   // REQUIRED
}

// SaveCandidatesWithClient replaces the candidates stored for a job.
func SaveCandidatesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, jobID string, candidates []domain.CandidateTransaction) error {
	if candidates == nil {
		candidates = []domain.CandidateTransaction{}
	}
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("SaveCandidates: marshal: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @job_id AS job_id) s
		ON t.job_id = s.job_id
		WHEN MATCHED THEN
			UPDATE SET payload = PARSE_JSON(@payload), updated_ts = @now
		WHEN NOT MATCHED THEN
			INSERT (job_id, payload, updated_ts) VALUES (@job_id, PARSE_JSON(@payload), @now)
	`, ds.Table(candidatesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: jobID},
		{Name: "payload", Value: string(payload)},
		{Name: "now", Value: time.Now().UTC()},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveCandidates: %w", err)
	}
	return nil
}

// LoadCandidatesWithClient returns the candidates stored for a job.
func LoadCandidatesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, jobID string) ([]domain.CandidateTransaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT job_id, payload, updated_ts
		FROM %s
		WHERE job_id = @job_id
	`, ds.Table(candidatesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: jobID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadCandidates: query read: %w", err)
	}

	var out []domain.CandidateTransaction
	for {
		var r CandidatesRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadCandidates: iter next: %w", err)
		}
		if !r.Payload.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(r.Payload.JSONVal), &out); err != nil {
			return nil, fmt.Errorf("LoadCandidates: job %s: %w", jobID, err)
		}
	}
	return out, nil
}

// SaveChunkCheckpointWithClient upserts the checkpoint of one chunk.
func SaveChunkCheckpointWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, jobID string, cp domain.ChunkCheckpoint) error {
	txs := cp.Transactions
	if txs == nil {
		txs = []domain.CandidateTransaction{}
	}
	payload, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("SaveChunkCheckpoint: marshal: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @job_id AS job_id, @chunk_index AS chunk_index) s
		ON t.job_id = s.job_id AND t.chunk_index = s.chunk_index
		WHEN MATCHED THEN
			UPDATE SET content_hash = @content_hash, payload = PARSE_JSON(@payload), created_ts = @created_ts
		WHEN NOT MATCHED THEN
			INSERT (job_id, chunk_index, content_hash, payload, created_ts)
			VALUES (@job_id, @chunk_index, @content_hash, PARSE_JSON(@payload), @created_ts)
	`, ds.Table(checkpointsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: jobID},
		{Name: "chunk_index", Value: int64(cp.ChunkIndex)},
		{Name: "content_hash", Value: cp.ContentHash},
		{Name: "payload", Value: string(payload)},
		{Name: "created_ts", Value: cp.CreatedAt},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveChunkCheckpoint: %w", err)
	}
	return nil
}

// LoadChunkCheckpointsWithClient returns every checkpoint of a job by chunk index.
func LoadChunkCheckpointsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, jobID string) ([]domain.ChunkCheckpoint, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT job_id, chunk_index, content_hash, payload, created_ts
		FROM %s
		WHERE job_id = @job_id
		ORDER BY chunk_index
	`, ds.Table(checkpointsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: jobID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadChunkCheckpoints: query read: %w", err)
	}

	var out []domain.ChunkCheckpoint
	for {
		var r CheckpointRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadChunkCheckpoints: iter next: %w", err)
		}
		cp := domain.ChunkCheckpoint{
			ChunkIndex:  int(r.ChunkIndex),
			ContentHash: r.ContentHash,
			CreatedAt:   r.CreatedTS,
		}
		if r.Payload.Valid {
			if err := json.Unmarshal([]byte(r.Payload.JSONVal), &cp.Transactions); err != nil {
				return nil, fmt.Errorf("LoadChunkCheckpoints: chunk %d: %w", r.ChunkIndex, err)
			}
		}
		out = append(out, cp)
	}
	return out, nil
}
