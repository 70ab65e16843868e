package validator

import (
	"strings"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/rowtext"
)

var creditPhrases = []string{
	"payment received", "received from", "paid in", "credit", "cr",
	"deposit", "salary", "wages", "refund", "interest paid", "transfer in",
	"incoming", "reversal", "cashback",
}

var debitPhrases = []string{
	"withdrawal", "debit", "dr", "direct debit", "dd", "card payment",
	"purchase", "atm", "cash machine", "fee", "charge", "payment to",
	"paid out", "transfer out", "standing order", "pos", "bill payment",
}

// InferClassification returns the candidate's classification: the explicit
// field if set, else description keywords, else the amount sign. ok is false
// when none of these decide it.
func InferClassification(c domain.CandidateTransaction) (domain.Classification, bool) {
	switch c.Classification {
	case domain.ClassificationIncome, domain.ClassificationExpense:
		return c.Classification, true
	}

	text := " " + strings.Join(rowtext.Words(c.Description), " ") + " "
	credit := countPhrases(text, creditPhrases)
	debit := countPhrases(text, debitPhrases)
	switch {
	case credit > debit:
		return domain.ClassificationIncome, true
	case debit > credit:
		return domain.ClassificationExpense, true
	}

	switch c.Amount.Sign() {
	case 1:
		return domain.ClassificationIncome, true
	case -1:
		return domain.ClassificationExpense, true
	}
	return "", false
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, " "+p+" ") {
			n++
		}
	}
	return n
}

// Normalize resolves the classification of a user-edited candidate and
// makes the amount sign agree with it. ok is false when the classification
// cannot be decided; the candidate is then returned unchanged.
func Normalize(c domain.CandidateTransaction) (domain.CandidateTransaction, bool) {
	class, ok := InferClassification(c)
	if !ok {
		return c, false
	}
	c.Classification = class
	c.Amount = signed(c, class)
	return c, true
}
