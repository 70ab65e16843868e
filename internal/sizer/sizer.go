package sizer

import (
	"strings"

	"github.com/dvloznov/statement-importer/internal/rowtext"
)

// PageSeparator delimits pages in extracted text.
const PageSeparator = "\f"

// Strategy is the payload decision for one statement.
type Strategy string

const (
	StrategyFull     Strategy = "full"
	StrategyFiltered Strategy = "filtered"
	StrategyChunked  Strategy = "chunked"
)

// Config holds the decision thresholds and chunk geometry.
type Config struct {
	ChunkPageThreshold  int
	ChunkCharThreshold  int
	ChunkCountThreshold int
	FilterCharThreshold int
	// WindowSize is the maximum characters per chunk.
	WindowSize int
	// WindowOverlap is repeated at the start of the next character window.
	WindowOverlap int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ChunkPageThreshold:  10,
		ChunkCharThreshold:  20000,
		ChunkCountThreshold: 20,
		FilterCharThreshold: 50000,
		WindowSize:          12000,
		WindowOverlap:       400,
	}
}

// Chunk is one independently submitted piece of statement text.
type Chunk struct {
	Index int
	Text  string
	// FirstPage and LastPage are 1-based; zero when chunked by characters.
	FirstPage int
	LastPage  int
	// Overlap is the number of leading characters repeated from the previous chunk.
	Overlap int
}

// Plan is the sizer output.
type Plan struct {
	Strategy       Strategy
	EstimatedCount int
	TextLength     int
	PageCount      int
	Chunks         []Chunk
}

// EstimateTransactions counts transaction-like lines.
func EstimateTransactions(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if rowtext.LooksLikeTransactionRow(line) {
			n++
		}
	}
	return n
}

// Decide picks the strategy without building chunks. The filter applies
// only to large, sparse documents below the page threshold; everything
// else that is large or dense is chunked.
func Decide(textLength, pageCount, estimated int, cfg Config) Strategy {
	manyPages := pageCount >= cfg.ChunkPageThreshold
	if !manyPages && textLength > cfg.FilterCharThreshold && estimated <= cfg.ChunkCountThreshold {
		return StrategyFiltered
	}
	if manyPages || textLength > cfg.ChunkCharThreshold || estimated > cfg.ChunkCountThreshold {
		return StrategyChunked
	}
	return StrategyFull
}

// New builds a plan for the extracted text.
func New(text string, pageCount int, cfg Config) Plan {
	est := EstimateTransactions(text)
	p := Plan{
		EstimatedCount: est,
		TextLength:     len(text),
		PageCount:      pageCount,
		Strategy:       Decide(len(text), pageCount, est, cfg),
	}

	switch p.Strategy {
	case StrategyChunked:
		p.Chunks = ChunkText(text, cfg)
	case StrategyFiltered:
		p.Chunks = []Chunk{{Index: 0, Text: FilterRows(text)}}
	default:
		p.Chunks = []Chunk{{Index: 0, Text: text}}
	}
	return p
}

// FilterRows keeps only lines that look like transaction rows.
func FilterRows(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if rowtext.LooksLikeTransactionRow(line) {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	return strings.Join(kept, "\n")
}
