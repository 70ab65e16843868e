package textextract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/statement-importer/internal/gemini"
	"github.com/dvloznov/statement-importer/internal/sizer"
	"google.golang.org/genai"
)

// MethodGeminiOCR marks text transcribed by the Gemini vision model.
const MethodGeminiOCR = "gemini_ocr"

const ocrPrompt = "You are an OCR engine for bank and card statements.\n\n" +
	"Task:\n" +
	"- Transcribe ALL visible text of the attached document, page by page.\n" +
	"- Before the text of each page output a line of the form \"=== PAGE n ===\" (n starts at 1).\n" +
	"- Keep each table row of the statement on ONE line, columns separated by spaces.\n" +
	"- Do not summarize, translate, correct or reorder anything.\n" +
	"- Output plain text only, no Markdown.\n"

var pageMarker = regexp.MustCompile(`(?m)^\s*=== PAGE \d+ ===\s*$`)

// GeminiOCRExtractor transcribes scanned PDFs and images.
type GeminiOCRExtractor struct {
	gen             Generator
	model           string
	maxOutputTokens int32
}

// Generator is the model call used for transcription.
type Generator = gemini.Generator

// NewGeminiOCRExtractor creates an OCR extractor bound to model.
func NewGeminiOCRExtractor(gen Generator, model string, maxOutputTokens int32) *GeminiOCRExtractor {
	return &GeminiOCRExtractor{gen: gen, model: model, maxOutputTokens: maxOutputTokens}
}

// Extract implements Extractor.
func (e *GeminiOCRExtractor) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	if mimeType != "application/pdf" && !strings.HasPrefix(mimeType, "image/") {
		return Result{}, ErrUnsupportedType
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: ocrPrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "text/plain",
		MaxOutputTokens:  e.maxOutputTokens,
	}

	resp, err := e.gen.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("GeminiOCRExtractor: generate content: %w", err)
	}
	raw, err := gemini.ResponseText(resp, 0)
	if err != nil {
		return Result{}, fmt.Errorf("GeminiOCRExtractor: %w", err)
	}

	pages := splitPages(raw)
	return Result{
		Text:      strings.Join(pages, sizer.PageSeparator),
		PageCount: len(pages),
		Method:    MethodGeminiOCR,
	}, nil
}

// splitPages cuts a transcription at its page markers. Text before the
// first marker is kept with page 1.
func splitPages(raw string) []string {
	locs := pageMarker.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return []string{strings.TrimSpace(raw)}
	}

	var pages []string
	prefix := strings.TrimSpace(raw[:locs[0][0]])
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		page := strings.TrimSpace(raw[loc[1]:end])
		if i == 0 && prefix != "" {
			page = strings.TrimSpace(prefix + "\n" + page)
		}
		pages = append(pages, page)
	}
	return pages
}
