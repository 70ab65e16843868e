// Package textextract turns an uploaded statement file into plain text with
// page boundaries marked by sizer.PageSeparator.
package textextract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/sizer"
)

// ErrUnsupportedType is returned by an extractor that cannot read the MIME type.
var ErrUnsupportedType = errors.New("unsupported file type")

// Result is the extracted text of one file.
type Result struct {
	Text      string
	PageCount int
	// Method names the extractor that produced the text.
	Method string
}

// Extractor converts raw file bytes into text. Implementations must not
// retry and must not touch any store.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (Result, error)
}

// Chain tries extractors in order and returns the first readable result.
type Chain struct {
	steps []Extractor
}

// NewChain builds a chain; order matters (cheap local extraction first).
func NewChain(steps ...Extractor) *Chain {
	return &Chain{steps: steps}
}

// Extract implements Extractor. When every step fails the error wraps
// domain.ErrExtractionFailed.
func (c *Chain) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	log := logger.FromContext(ctx)
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: empty file", domain.ErrExtractionFailed)
	}

	var reasons []string
	for _, step := range c.steps {
		res, err := step.Extract(ctx, data, mimeType)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if errors.Is(err, ErrUnsupportedType) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("mime_type", mimeType).Msg("text extractor failed, trying next")
			reasons = append(reasons, err.Error())
			continue
		}
		if !Readable(res.Text) {
			log.Warn().Str("method", res.Method).Int("chars", len(res.Text)).Msg("extracted text is not readable, trying next")
			reasons = append(reasons, res.Method+": unreadable text")
			continue
		}
		if res.PageCount == 0 {
			res.PageCount = strings.Count(res.Text, sizer.PageSeparator) + 1
		}
		return res, nil
	}

	if len(reasons) == 0 {
		return Result{}, fmt.Errorf("%w: no extractor for %q", domain.ErrExtractionFailed, mimeType)
	}
	return Result{}, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, strings.Join(reasons, "; "))
}

// statementWords appear in virtually every bank or card statement.
var statementWords = []string{
	"bank", "account", "balance", "date", "payment", "statement",
	"total", "amount", "credit", "debit", "transaction", "sort code",
	"money", "paid", "opening", "closing", "transfer", "direct",
	"number", "page", "period", "card",
}

// Readable reports whether text is long enough, mostly plain characters,
// and contains at least one word expected on a statement. Identity-encoded
// fonts produce long runs of accented garbage that fail the second test.
func Readable(text string) bool {
	if len(strings.TrimSpace(text)) <= 50 {
		return false
	}
	if quality(text) <= 0.6 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range statementWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func quality(text string) float64 {
	total, readable := 0, 0
	for _, r := range text {
		total++
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			readable++
			continue
		}
		switch r {
		case '£', '€':
			readable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(readable) / float64(total)
}
