package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/rowtext"
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// RegexProvider is the deterministic fallback: one candidate per line that
// has a date and an amount. It never fails and never calls out, so it is
// useful offline and in tests, at the cost of recall on multi-line rows.
type RegexProvider struct {
	now func() time.Time
}

// NewRegexProvider returns the fallback provider.
func NewRegexProvider() *RegexProvider {
	return &RegexProvider{now: time.Now}
}

// Name implements Provider.
func (p *RegexProvider) Name() string { return "regex" }

// ExtractTransactions implements Provider.
func (p *RegexProvider) ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateTransaction, error) {
	refYear := referenceYear(text, p.now().Year())

	var out []domain.CandidateTransaction
	for _, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !rowtext.LooksLikeTransactionRow(line) {
			continue
		}
		c, ok := parseRow(line, refYear)
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func parseRow(line string, refYear int) (domain.CandidateTransaction, bool) {
	dates := rowtext.DateTokens(line)
	amounts := rowtext.AmountTokens(line)
	if len(dates) == 0 || len(amounts) == 0 {
		return domain.CandidateTransaction{}, false
	}

	candidates := rowtext.DateCandidates(dates[0], refYear)
	if len(candidates) == 0 {
		return domain.CandidateTransaction{}, false
	}
	amount, ok := rowtext.ParseAmount(amounts[0])
	if !ok {
		return domain.CandidateTransaction{}, false
	}

	desc := line
	for _, d := range dates {
		desc = strings.Replace(desc, d, " ", 1)
	}
	for _, a := range amounts {
		desc = strings.Replace(desc, a, " ", 1)
	}
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		return domain.CandidateTransaction{}, false
	}

	return domain.CandidateTransaction{
		Date:        candidates[0],
		Description: desc,
		Amount:      amount,
	}, true
}

// referenceYear picks the latest plausible year printed in the text, or fallback.
func referenceYear(text string, fallback int) int {
	best := 0
	for _, m := range yearPattern.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err == nil && y > best && y <= fallback+1 {
			best = y
		}
	}
	if best == 0 {
		return fallback
	}
	return best
}
