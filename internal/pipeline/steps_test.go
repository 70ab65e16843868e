package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/extraction"
	"github.com/dvloznov/statement-importer/internal/sizer"
	"github.com/dvloznov/statement-importer/internal/textextract"
	"github.com/dvloznov/statement-importer/internal/validator"
)

// MockFileFetcher is a mock implementation of FileFetcher.
type MockFileFetcher struct {
	GetBytesFunc func(ctx context.Context, path string) ([]byte, error)
}

func (m *MockFileFetcher) GetBytes(ctx context.Context, path string) ([]byte, error) {
	return m.GetBytesFunc(ctx, path)
}

// MockTextExtractor is a mock implementation of TextExtractor.
type MockTextExtractor struct {
	ExtractFunc func(ctx context.Context, data []byte, mimeType string) (textextract.Result, error)
}

func (m *MockTextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (textextract.Result, error) {
	return m.ExtractFunc(ctx, data, mimeType)
}

// MockTransactionExtractor is a mock implementation of TransactionExtractor.
type MockTransactionExtractor struct {
	ExtractFunc func(ctx context.Context, jobID string, chunks []sizer.Chunk) (*extraction.Result, error)
}

func (m *MockTransactionExtractor) Extract(ctx context.Context, jobID string, chunks []sizer.Chunk) (*extraction.Result, error) {
	return m.ExtractFunc(ctx, jobID, chunks)
}

func (m *MockTransactionExtractor) ProviderName() string { return "mock" }

// MockKeys is a mock implementation of repository.TransactionRepository.
type MockKeys struct {
	ListTransactionKeysFunc func(ctx context.Context, accountID string) ([]domain.TransactionKey, error)
}

func (m *MockKeys) ListTransactionKeys(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
	return m.ListTransactionKeysFunc(ctx, accountID)
}

func (m *MockKeys) InsertTransactions(ctx context.Context, rows []*domain.PersistedTransaction) []error {
	return make([]error, len(rows))
}

const statementText = "Statement March 2024\n" +
	"06/03/2024 CARD PAYMENT TESCO STORES 45.60\n" +
	"07/03/2024 DIRECT DEBIT COUNCIL TAX 120.00\n"

func TestFetchFileStep(t *testing.T) {
	data := []byte("%PDF-1.4 statement")
	sum := sha256.Sum256(data)
	fetcher := &MockFileFetcher{GetBytesFunc: func(ctx context.Context, path string) ([]byte, error) {
		if path != "a.pdf" {
			return nil, errors.New("unexpected path " + path)
		}
		return data, nil
	}}

	tests := []struct {
		name    string
		sha     string
		wantErr bool
	}{
		{"no checksum recorded", "", false},
		{"matching checksum", hex.EncodeToString(sum[:]), false},
		{"mismatched checksum", strings.Repeat("0", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewPipelineState(&domain.ImportJob{File: domain.FileRef{Path: "a.pdf", SHA256: tt.sha}})
			err := (&FetchFileStep{Files: fetcher}).Execute(context.Background(), state)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(state.File) != string(data) {
				t.Errorf("File = %q", state.File)
			}
		})
	}
}

func TestExtractTextStep_DetectsMIMEAndRecordsMethod(t *testing.T) {
	var gotMIME string
	ext := &MockTextExtractor{ExtractFunc: func(ctx context.Context, data []byte, mimeType string) (textextract.Result, error) {
		gotMIME = mimeType
		return textextract.Result{Text: statementText, PageCount: 2, Method: "pdf_text"}, nil
	}}
	state := NewPipelineState(&domain.ImportJob{})
	state.File = []byte("%PDF-1.7\n...")

	if err := (&ExtractTextStep{Extractor: ext}).Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotMIME != "application/pdf" {
		t.Errorf("mimeType = %q, want application/pdf", gotMIME)
	}
	if state.Text != statementText || state.PageCount != 2 {
		t.Errorf("Text/PageCount not recorded: %d pages", state.PageCount)
	}
	if state.File != nil {
		t.Error("raw file should be released after extraction")
	}
	if state.Metadata.String(domain.MetaTextMethod) != "pdf_text" {
		t.Errorf("text_method = %v", state.Metadata[domain.MetaTextMethod])
	}
}

func TestPlanPayloadStep_RecordsSizing(t *testing.T) {
	state := NewPipelineState(&domain.ImportJob{})
	state.Text = statementText
	state.PageCount = 1

	if err := (&PlanPayloadStep{Config: sizer.DefaultConfig()}).Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if state.Job.ParsingMethod != domain.ParsingMethodFull {
		t.Errorf("ParsingMethod = %s, want full", state.Job.ParsingMethod)
	}
	if len(state.Plan.Chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(state.Plan.Chunks))
	}
	if state.Metadata[domain.MetaChunked] != false || state.Metadata[domain.MetaFiltered] != false {
		t.Errorf("chunked/filtered = %v/%v", state.Metadata[domain.MetaChunked], state.Metadata[domain.MetaFiltered])
	}
	if state.Metadata.Int(domain.MetaEstimatedTransactions) != state.Plan.EstimatedCount {
		t.Errorf("estimated_transactions = %v", state.Metadata[domain.MetaEstimatedTransactions])
	}
}

func TestExtractTransactionsStep_RecordsDiagnosticsOnFailure(t *testing.T) {
	client := &MockTransactionExtractor{ExtractFunc: func(ctx context.Context, jobID string, chunks []sizer.Chunk) (*extraction.Result, error) {
		return &extraction.Result{ProviderCalls: 3, BreakerTrips: 1, BreakerRejections: 2}, domain.ErrServiceUnavailable
	}}
	state := NewPipelineState(&domain.ImportJob{ID: "job-1"})
	state.Plan = sizer.Plan{Chunks: []sizer.Chunk{{Index: 0}, {Index: 1}, {Index: 2}}}

	err := (&ExtractTransactionsStep{Client: client}).Execute(context.Background(), state)
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("Execute() error = %v, want ErrServiceUnavailable", err)
	}
	if state.Metadata.Int(domain.MetaProviderCalls) != 3 || state.Metadata.Int(domain.MetaBreakerTrips) != 1 {
		t.Errorf("metadata = %v", state.Metadata)
	}
	if state.Metadata.Int(domain.MetaBreakerRejections) != 2 {
		t.Errorf("breaker_rejections = %v, want 2", state.Metadata[domain.MetaBreakerRejections])
	}
	if state.Metadata.String(domain.MetaProvider) != "mock" {
		t.Errorf("provider = %v", state.Metadata[domain.MetaProvider])
	}
}

func TestValidateStep_RecordsDiscards(t *testing.T) {
	state := NewPipelineState(&domain.ImportJob{})
	state.Text = statementText
	state.Extracted = []domain.CandidateTransaction{
		expense(6, "CARD PAYMENT TESCO STORES", "45.60", ""),
		{Description: "NO DATE"},
	}

	if err := (&ValidateStep{Config: validator.DefaultConfig()}).Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(state.Candidates) != 1 {
		t.Fatalf("kept %d, want 1", len(state.Candidates))
	}
	if !state.Candidates[0].Amount.IsNegative() {
		t.Errorf("expense amount = %s, want negative", state.Candidates[0].Amount)
	}
	if state.Metadata.Len(domain.MetaDiscards) != 1 {
		t.Errorf("discards = %v", state.Metadata[domain.MetaDiscards])
	}
	if state.Confidence == nil {
		t.Error("Confidence should be set when candidates are kept")
	}
}

func TestDeduplicateStep(t *testing.T) {
	keys := &MockKeys{ListTransactionKeysFunc: func(ctx context.Context, accountID string) ([]domain.TransactionKey, error) {
		return []domain.TransactionKey{{Reference: "REF1", Date: civil.Date{Year: 2024, Month: 3, Day: 6}}}, nil
	}}
	state := NewPipelineState(&domain.ImportJob{AccountID: "acc-1"})
	state.Candidates = []domain.CandidateTransaction{
		expense(6, "CARD PAYMENT TESCO", "-45.60", "ref1"),
		expense(7, "DIRECT DEBIT COUNCIL", "-120.00", "REF2"),
		expense(8, "NO REFERENCE", "-1.00", ""),
	}

	if err := (&DeduplicateStep{Transactions: keys}).Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(state.Candidates) != 2 {
		t.Errorf("kept %d, want 2", len(state.Candidates))
	}
	if state.Metadata.Int(domain.MetaDuplicates) != 1 {
		t.Errorf("duplicates = %v", state.Metadata[domain.MetaDuplicates])
	}
}

func TestPipeline_Execute(t *testing.T) {
	var ran []string
	step := func(name string, err error) PipelineStep {
		return &funcStep{name: name, fn: func(ctx context.Context, state *PipelineState) error {
			ran = append(ran, name)
			state.Count(2, 1)
			return err
		}}
	}
	boom := errors.New("boom")
	p := NewPipeline(step("a", nil), step("b", boom), step("c", nil))
	state := NewPipelineState(&domain.ImportJob{})

	err := p.Execute(context.Background(), state)

	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "b" {
		t.Fatalf("Execute() error = %v, want StageError for b", err)
	}
	if !errors.Is(err, boom) {
		t.Error("stage error should wrap the step error")
	}
	if strings.Join(ran, ",") != "a,b" {
		t.Errorf("ran = %v, want a,b", ran)
	}
	if state.FailedStage != "b" {
		t.Errorf("FailedStage = %q", state.FailedStage)
	}
	if len(state.Stages) != 1 || state.Stages[0].In != 2 || state.Stages[0].Out != 1 {
		t.Errorf("Stages = %+v", state.Stages)
	}
}

func TestPipeline_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	p := NewPipeline(&funcStep{name: "a", fn: func(ctx context.Context, state *PipelineState) error {
		called = true
		return nil
	}})

	err := p.Execute(ctx, NewPipelineState(&domain.ImportJob{}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("no step should run on a canceled context")
	}
}
