// Package validator cross-checks extracted candidates against the statement
// text they came from and assigns each one a confidence tier.
package validator

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/rowtext"
	"github.com/shopspring/decimal"
)

// Config holds the tier thresholds. Inflow and outflow are deliberately
// asymmetric: credits usually have terse descriptions in the source text.
type Config struct {
	// OutflowMinOverlap is the description overlap an expense needs at all.
	OutflowMinOverlap float64
	// OutflowHighOverlap promotes a fully matched expense to high.
	OutflowHighOverlap float64
	// InflowMinOverlap is the overlap that keeps an otherwise unmatched income row at low.
	InflowMinOverlap float64
	// DateWindowDays lets a date match a source date this many days away.
	DateWindowDays int
}

// DefaultConfig returns the thresholds tuned on real statements.
func DefaultConfig() Config {
	return Config{
		OutflowMinOverlap:  0.20,
		OutflowHighOverlap: 0.50,
		InflowMinOverlap:   0.15,
		DateWindowDays:     0,
	}
}

// Discard reasons.
const (
	ReasonMissingDate        = "missing_date"
	ReasonMissingDescription = "missing_description"
	ReasonUncorroboratedIn   = "uncorroborated_inflow"
	ReasonUncorroboratedOut  = "uncorroborated_outflow"
	ReasonUnclassifiable     = "unclassifiable"
)

// Match is the outcome of comparing one candidate with the source text.
type Match struct {
	AmountMatch bool
	DateMatch   bool
	// Overlap is the share of description words found in the source, in [0,1].
	Overlap float64
}

// Result is the validator output for one job.
type Result struct {
	Kept     []domain.CandidateTransaction
	Discards []domain.Discard
	// Confidence is the mean tier score of kept candidates; nil when none were kept.
	Confidence *float64
}

// Validator scores candidates against one statement text.
type Validator struct {
	cfg    Config
	source *Source
}

// New indexes sourceText for matching.
func New(cfg Config, sourceText string) *Validator {
	return &Validator{cfg: cfg, source: NewSource(sourceText)}
}

// Validate infers missing classifications, scores every candidate and
// splits them into kept and discarded. Kept candidates have Valid set, a
// tier, and an amount whose sign agrees with the classification.
func (v *Validator) Validate(candidates []domain.CandidateTransaction) Result {
	var res Result
	var scoreSum float64

	for i, c := range candidates {
		discard := func(reason string) {
			res.Discards = append(res.Discards, domain.Discard{
				Index:       i,
				ChunkIndex:  c.ChunkIndex,
				Description: c.Description,
				Reason:      reason,
			})
		}

		if c.Date.IsZero() || !c.Date.IsValid() {
			discard(ReasonMissingDate)
			continue
		}
		if strings.TrimSpace(c.Description) == "" {
			discard(ReasonMissingDescription)
			continue
		}

		m := v.source.Match(c, v.cfg.DateWindowDays)
		class, ok := InferClassification(c)

		var tier domain.Tier
		var valid bool
		switch {
		case ok && class == domain.ClassificationExpense:
			tier, valid = v.outflowTier(m)
			if !valid {
				discard(describe(ReasonUncorroboratedOut, m))
				continue
			}
		case ok && class == domain.ClassificationIncome:
			tier, valid = v.inflowTier(m)
			if !valid {
				discard(describe(ReasonUncorroboratedIn, m))
				continue
			}
		default:
			if tier, valid = v.outflowTier(m); valid {
				class = domain.ClassificationExpense
			} else if tier, valid = v.inflowTier(m); valid {
				class = domain.ClassificationIncome
			} else {
				discard(describe(ReasonUnclassifiable, m))
				continue
			}
		}

		c.Classification = class
		c.Amount = signed(c, class)
		c.Tier = tier
		c.Valid = true
		res.Kept = append(res.Kept, c)
		scoreSum += tier.Score()
	}

	if len(res.Kept) > 0 {
		conf := scoreSum / float64(len(res.Kept))
		res.Confidence = &conf
	}
	return res
}

func (v *Validator) outflowTier(m Match) (domain.Tier, bool) {
	if m.Overlap < v.cfg.OutflowMinOverlap || !(m.AmountMatch || m.DateMatch) {
		return "", false
	}
	if m.Overlap >= v.cfg.OutflowHighOverlap && m.AmountMatch && m.DateMatch {
		return domain.TierHigh, true
	}
	return domain.TierMedium, true
}

func (v *Validator) inflowTier(m Match) (domain.Tier, bool) {
	switch {
	case m.AmountMatch && m.DateMatch:
		return domain.TierHigh, true
	case m.AmountMatch || m.DateMatch:
		return domain.TierMedium, true
	case m.Overlap >= v.cfg.InflowMinOverlap:
		return domain.TierLow, true
	}
	return "", false
}

func signed(c domain.CandidateTransaction, class domain.Classification) decimal.Decimal {
	abs := c.Amount.Abs()
	if class == domain.ClassificationExpense {
		return abs.Neg()
	}
	return abs
}

func describe(reason string, m Match) string {
	return fmt.Sprintf("%s: overlap=%.2f amount_match=%t date_match=%t", reason, m.Overlap, m.AmountMatch, m.DateMatch)
}

// Source is an index of the amounts, dates and words found in statement text.
// It is not safe for concurrent use.
type Source struct {
	amounts    map[string]bool
	dateTokens []string
	words      map[string]bool
	datesByRef map[int]map[civil.Date]bool
}

// NewSource indexes text once so every candidate is matched in O(1) per field.
func NewSource(text string) *Source {
	s := &Source{
		amounts:    make(map[string]bool),
		words:      make(map[string]bool),
		datesByRef: make(map[int]map[civil.Date]bool),
	}
	for _, line := range strings.Split(text, "\n") {
		for _, tok := range rowtext.AmountTokens(line) {
			if d, ok := rowtext.ParseAmount(tok); ok {
				s.amounts[d.Abs().StringFixed(2)] = true
			}
		}
		s.dateTokens = append(s.dateTokens, rowtext.DateTokens(line)...)
	}
	for _, w := range rowtext.Words(text) {
		s.words[w] = true
	}
	return s
}

// Match compares one candidate against the indexed text.
func (s *Source) Match(c domain.CandidateTransaction, windowDays int) Match {
	return Match{
		AmountMatch: s.amounts[c.Amount.Abs().StringFixed(2)],
		DateMatch:   s.hasDate(c.Date, windowDays),
		Overlap:     s.overlap(c.Description),
	}
}

func (s *Source) hasDate(d civil.Date, windowDays int) bool {
	dates, ok := s.datesByRef[d.Year]
	if !ok {
		// Tokens without a year are read in the candidate's year.
		dates = make(map[civil.Date]bool)
		for _, tok := range s.dateTokens {
			for _, cd := range rowtext.DateCandidates(tok, d.Year) {
				dates[cd] = true
			}
		}
		s.datesByRef[d.Year] = dates
	}
	for k := -windowDays; k <= windowDays; k++ {
		if dates[d.AddDays(k)] {
			return true
		}
	}
	return false
}

func (s *Source) overlap(description string) float64 {
	seen := make(map[string]bool)
	found := 0
	for _, w := range rowtext.Words(description) {
		if seen[w] {
			continue
		}
		seen[w] = true
		if s.words[w] {
			found++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(found) / float64(len(seen))
}
