// Package dedup drops candidates that repeat transactions already stored
// for the same account.
package dedup

import (
	"strings"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-importer/internal/domain"
)

// Key is the natural deduplication key of a transaction.
type Key struct {
	AccountID string
	Reference string
	Date      string
}

// NormalizeReference uppercases ref and keeps only letters and digits, so
// "ab-123 " and "AB123" collide.
func NormalizeReference(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NewKey builds the key; ok is false when the reference is empty after
// normalization, which exempts the transaction from deduplication.
func NewKey(accountID, reference string, date civil.Date) (Key, bool) {
	ref := NormalizeReference(reference)
	if ref == "" {
		return Key{}, false
	}
	return Key{AccountID: accountID, Reference: ref, Date: date.String()}, true
}

// Result is the deduplicator output.
type Result struct {
	Kept []domain.CandidateTransaction
	// Duplicates are the dropped candidates, in input order.
	Duplicates []domain.CandidateTransaction
}

// Deduplicate removes candidates whose key matches an existing transaction
// or an earlier candidate in the same batch. Candidates without a reference
// always pass.
func Deduplicate(accountID string, candidates []domain.CandidateTransaction, existing []domain.TransactionKey) Result {
	seen := make(map[Key]struct{}, len(existing)+len(candidates))
	for _, e := range existing {
		if k, ok := NewKey(accountID, e.Reference, e.Date); ok {
			seen[k] = struct{}{}
		}
	}

	res := Result{Kept: make([]domain.CandidateTransaction, 0, len(candidates))}
	for _, c := range candidates {
		k, ok := NewKey(accountID, c.Reference, c.Date)
		if !ok {
			res.Kept = append(res.Kept, c)
			continue
		}
		if _, dup := seen[k]; dup {
			res.Duplicates = append(res.Duplicates, c)
			continue
		}
		seen[k] = struct{}{}
		res.Kept = append(res.Kept, c)
	}
	return res
}
