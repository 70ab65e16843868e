package extraction

import (
	"fmt"
	"strings"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/rowtext"
	"github.com/dvloznov/statement-importer/internal/sizer"
)

// mergeChunks concatenates per-chunk results in chunk order. Rows are never
// stitched across chunks; instead two boundary effects become warnings:
// a row whose source line sits in the overlap and was already returned for
// the previous chunk is kept once, and a row that looks cut in half at a
// window edge is reported.
func mergeChunks(chunks []sizer.Chunk, perChunk [][]domain.CandidateTransaction) ([]domain.CandidateTransaction, []string) {
	var (
		out      []domain.CandidateTransaction
		warnings []string
	)

	for i := range chunks {
		txs := perChunk[i]
		if i > 0 && chunks[i].Overlap > 0 {
			slots := overlapSlots(chunks[i], perChunk[i-1])
			kept := txs[:0:0]
			for _, t := range txs {
				if key := rowKey(t); slots[key] > 0 {
					slots[key]--
					warnings = append(warnings, fmt.Sprintf(
						"chunk %d: dropped row repeated from overlap with chunk %d (%s %s %s)",
						chunks[i].Index, chunks[i-1].Index, t.Date, t.Description, t.Amount.StringFixed(2)))
					continue
				}
				kept = append(kept, t)
			}
			txs = kept
		}
		out = append(out, txs...)

		if i+1 < len(chunks) && splitsPage(chunks[i], chunks[i+1]) {
			if w, ok := boundaryFragment(chunks[i], chunks[i+1]); ok {
				warnings = append(warnings, w)
			}
		}
	}
	return out, warnings
}

// overlapSlots counts, per row key, the rows of the previous chunk whose
// source line lies in the overlap region of c. Each overlap line backs at
// most one row, so only that many repeats may be dropped from c.
func overlapSlots(c sizer.Chunk, prev []domain.CandidateTransaction) map[string]int {
	region := c.Text
	if c.Overlap < len(region) {
		region = region[:c.Overlap]
	}
	var lines []string
	for _, line := range strings.Split(region, "\n") {
		if rowtext.LooksLikeTransactionRow(line) {
			lines = append(lines, line)
		}
	}

	slots := make(map[string]int)
	used := make([]bool, len(lines))
	for _, t := range prev {
		for j, line := range lines {
			if !used[j] && lineHolds(line, t) {
				used[j] = true
				slots[rowKey(t)]++
				break
			}
		}
	}
	return slots
}

// lineHolds reports whether line carries t's amount and every word of its
// description.
func lineHolds(line string, t domain.CandidateTransaction) bool {
	amountFound := false
	for _, tok := range rowtext.AmountTokens(line) {
		if a, ok := rowtext.ParseAmount(tok); ok && a.Abs().Equal(t.Amount.Abs()) {
			amountFound = true
			break
		}
	}
	if !amountFound {
		return false
	}
	words := make(map[string]bool)
	for _, w := range rowtext.Words(line) {
		words[w] = true
	}
	for _, w := range rowtext.Words(t.Description) {
		if !words[w] {
			return false
		}
	}
	return true
}

func rowKey(t domain.CandidateTransaction) string {
	return t.Date.String() + "|" + t.Amount.StringFixed(2) + "|" + strings.Join(rowtext.Words(t.Description), " ")
}

// splitsPage reports whether the boundary between a and b falls inside a
// page (character windows) rather than between pages.
func splitsPage(a, b sizer.Chunk) bool {
	return b.FirstPage == 0 || a.LastPage == b.FirstPage
}

// boundaryFragment detects a row cut by the window edge: the last line of a
// has a date but no amount, or the first new line of b has an amount but no date.
func boundaryFragment(a, b sizer.Chunk) (string, bool) {
	last := lastLine(a.Text)
	if len(rowtext.DateTokens(last)) > 0 && len(rowtext.AmountTokens(last)) == 0 {
		return fmt.Sprintf("chunk %d ends mid-row, a transaction may be split across chunks %d and %d: %q",
			a.Index, a.Index, b.Index, last), true
	}

	rest := b.Text
	if b.Overlap > 0 && b.Overlap <= len(rest) {
		rest = rest[b.Overlap:]
	}
	first := firstLine(rest)
	if len(rowtext.AmountTokens(first)) > 0 && len(rowtext.DateTokens(first)) == 0 {
		return fmt.Sprintf("chunk %d starts mid-row, a transaction may be split across chunks %d and %d: %q",
			b.Index, a.Index, b.Index, first), true
	}
	return "", false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n\f "), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}
