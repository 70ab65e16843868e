package textextract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/statement-importer/internal/sizer"
	"github.com/ledongthuc/pdf"
)

// MethodPDFText marks text read from the PDF text layer.
const MethodPDFText = "pdf_text"

// PDFExtractor reads the embedded text layer of a PDF. Scanned statements
// have no text layer and fall through to OCR.
type PDFExtractor struct{}

// NewPDFExtractor returns a text-layer extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte, mimeType string) (res Result, err error) {
	if mimeType != "application/pdf" {
		return Result{}, ErrUnsupportedType
	}

	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDFExtractor: pdf reader crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("PDFExtractor: open: %w", err)
	}
	numPages := r.NumPage()
	if numPages == 0 {
		return Result{}, fmt.Errorf("PDFExtractor: PDF has no pages")
	}

	pages := pagesByRow(r, numPages)
	if !Readable(strings.Join(pages, "\n")) {
		if plain := readerPlainText(r); plain != "" {
			pages = []string{plain}
		}
	}

	return Result{
		Text:      strings.Join(pages, sizer.PageSeparator),
		PageCount: max(len(pages), numPages),
		Method:    MethodPDFText,
	}, nil
}

// pagesByRow keeps the visual row layout, which is what keeps a date and
// its amount on the same line.
func pagesByRow(r *pdf.Reader, numPages int) []string {
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			pages = append(pages, "")
			continue
		}
		var lines []string
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			if line := strings.TrimSpace(strings.Join(parts, " ")); line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	return pages
}

func readerPlainText(r *pdf.Reader) string {
	rd, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
