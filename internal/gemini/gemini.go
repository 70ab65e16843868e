// Package gemini holds the pieces shared by every component that talks to
// the Gemini API: client construction, response text handling and JSON cleanup.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrTruncated is returned when the model stopped at its output ceiling.
var ErrTruncated = errors.New("model output truncated at token limit")

// Generator is the subset of *genai.Models used by this service.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenerator creates a Gemini client. Credentials come from the
// environment (GOOGLE_API_KEY or Vertex AI application default credentials).
func NewGenerator(ctx context.Context) (Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenerator: create genai client: %w", err)
	}
	return client.Models, nil
}

// ResponseText returns the text of the first candidate. It fails when the
// response is empty, was cut at the token limit, or exceeds maxChars
// (zero disables the character ceiling).
func ResponseText(resp *genai.GenerateContentResponse, maxChars int) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("ResponseText: empty response from model")
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return "", ErrTruncated
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("ResponseText: empty response from model")
	}
	if maxChars > 0 && len(raw) > maxChars {
		return "", fmt.Errorf("ResponseText: %d chars exceeds ceiling of %d: %w", len(raw), maxChars, ErrTruncated)
	}
	return raw, nil
}

// CleanJSON strips Markdown fences and surrounding chatter from a model
// answer, keeping the outermost JSON array or object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// ```json ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	first, last := "[", "]"
	if i := strings.IndexAny(s, "[{"); i != -1 && s[i] == '{' {
		first, last = "{", "}"
	}
	if start := strings.Index(s, first); start != -1 {
		if end := strings.LastIndex(s, last); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
