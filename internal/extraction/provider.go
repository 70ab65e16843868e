// Package extraction sends statement text to a structured-extraction
// provider behind the shared circuit breaker and merges per-chunk results.
package extraction

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/gemini"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Provider turns one piece of statement text into candidate transactions.
type Provider interface {
	Name() string
	ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateTransaction, error)
}

const extractionPrompt = "You are a financial statement parser.\n\n" +
	"Task:\n" +
	"- Extract EVERY transaction row from the statement text below.\n" +
	"- Ignore opening/closing balances, totals, interest rate tables and marketing text.\n" +
	"- Output a JSON array of objects, nothing else.\n\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string, copied exactly as printed\n" +
	"- \"amount\": number (positive for money IN, negative for money OUT)\n" +
	"- \"classification\": \"income\" or \"expense\"\n" +
	"- \"reference\": string or null (transaction reference if the statement prints one)\n\n" +
	"Rules:\n" +
	"- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n" +
	"- If a date omits the year, use the statement period to infer it.\n" +
	"- The text may be a fragment of a longer statement; extract only complete rows.\n" +
	"- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n\n" +
	"Statement text:\n"

// GeminiProvider extracts transactions with a Gemini model constrained by
// a response schema.
type GeminiProvider struct {
	gen             gemini.Generator
	model           string
	maxOutputTokens int32
	maxOutputChars  int
}

// NewGeminiProvider creates a provider. maxOutputTokens and maxOutputChars
// together form the per-call output ceiling.
func NewGeminiProvider(gen gemini.Generator, model string, maxOutputTokens int32, maxOutputChars int) *GeminiProvider {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiProvider{gen: gen, model: model, maxOutputTokens: maxOutputTokens, maxOutputChars: maxOutputChars}
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini:" + p.model }

// ExtractTransactions implements Provider.
func (p *GeminiProvider) ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateTransaction, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: extractionPrompt + text}},
	}}
	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
		MaxOutputTokens:  p.maxOutputTokens,
	}

	resp, err := p.gen.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GeminiProvider: generate content: %w", err)
	}
	raw, err := gemini.ResponseText(resp, p.maxOutputChars)
	if err != nil {
		return nil, fmt.Errorf("GeminiProvider: %w", err)
	}

	txs, err := ParseModelOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("GeminiProvider: %w", err)
	}
	return txs, nil
}
