package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// fileRef describes a local statement file.
func fileRef(path string, data []byte) domain.FileRef {
	sum := sha256.Sum256(data)
	return domain.FileRef{
		Path:     path,
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     int64(len(data)),
		MIMEType: detectMIME(path, data),
	}
}

func detectMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mimeType
}

func readEdits(path string) ([]domain.CandidateTransaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("readEdits: %w", err)
	}
	var edited []domain.CandidateTransaction
	if err := json.Unmarshal(data, &edited); err != nil {
		return nil, fmt.Errorf("readEdits: parse %s: %w", path, err)
	}
	if edited == nil {
		edited = []domain.CandidateTransaction{}
	}
	return edited, nil
}

func printJob(w io.Writer, job *domain.ImportJob) {
	fmt.Fprintln(w, "\n=== Import ===")
	fmt.Fprintf(w, "ID:        %s\n", job.ID)
	fmt.Fprintf(w, "Account:   %s\n", job.AccountID)
	fmt.Fprintf(w, "File:      %s\n", job.File.Path)
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	if job.ParsingMethod != "" {
		fmt.Fprintf(w, "Method:    %s\n", job.ParsingMethod)
	}
	fmt.Fprintf(w, "Counts:    total %d, imported %d, failed %d\n", job.TotalTransactions, job.ImportedTransactions, job.FailedTransactions)
	if job.Confidence != nil {
		fmt.Fprintf(w, "Confidence: %.2f\n", *job.Confidence)
	}
	if job.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:     %s\n", *job.ErrorMessage)
	}

	if stages, ok := job.Metadata[domain.MetaStages].([]domain.StageCount); ok && len(stages) > 0 {
		fmt.Fprintln(w, "\nStages:")
		for _, s := range stages {
			fmt.Fprintf(w, "  %-16s in %4d  out %4d  %6dms\n", s.Stage, s.In, s.Out, s.DurationMS)
		}
	}
}

func printCandidates(w io.Writer, candidates []domain.CandidateTransaction) {
	fmt.Fprintf(w, "\n=== Candidates (%d) ===\n", len(candidates))
	for i, c := range candidates {
		fmt.Fprintf(w, "%3d. %s  %10s  %-7s %s", i+1, c.Date, c.Amount.StringFixed(2), c.Classification, c.Description)
		if c.Reference != "" {
			fmt.Fprintf(w, "  [%s]", c.Reference)
		}
		if c.Tier != "" {
			fmt.Fprintf(w, "  (%s)", c.Tier)
		}
		fmt.Fprintln(w)
	}
}
