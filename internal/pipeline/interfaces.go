package pipeline

import (
	"context"

	"github.com/dvloznov/statement-importer/internal/commit"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/extraction"
	"github.com/dvloznov/statement-importer/internal/sizer"
	"github.com/dvloznov/statement-importer/internal/textextract"
)

// FileFetcher reads the raw uploaded statement from object storage.
type FileFetcher interface {
	GetBytes(ctx context.Context, path string) ([]byte, error)
}

// TextExtractor turns file bytes into statement text.
type TextExtractor = textextract.Extractor

// TransactionExtractor runs sized chunks through the structured-extraction
// provider. *extraction.Client implements it.
type TransactionExtractor interface {
	Extract(ctx context.Context, jobID string, chunks []sizer.Chunk) (*extraction.Result, error)
	ProviderName() string
}

// Committer writes reviewed candidates. *commit.Writer implements it.
type Committer interface {
	Commit(ctx context.Context, job *domain.ImportJob, candidates []domain.CandidateTransaction) commit.Outcome
}

var (
	_ TransactionExtractor = (*extraction.Client)(nil)
	_ Committer            = (*commit.Writer)(nil)
)
