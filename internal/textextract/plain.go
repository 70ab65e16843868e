package textextract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-importer/internal/sizer"
)

// MethodPlainText marks text files used as-is.
const MethodPlainText = "plain_text"

// PlainTextExtractor passes text and CSV exports through. Form feeds
// separate pages.
type PlainTextExtractor struct{}

// NewPlainTextExtractor returns a pass-through extractor.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

// Extract implements Extractor.
func (e *PlainTextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "text/plain", "text/csv", "text/tab-separated-values":
	default:
		return Result{}, ErrUnsupportedType
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("PlainTextExtractor: file is not valid UTF-8")
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\uFEFF")
	pages := strings.Split(text, "\f")
	return Result{
		Text:      strings.Join(pages, sizer.PageSeparator),
		PageCount: len(pages),
		Method:    MethodPlainText,
	}, nil
}
