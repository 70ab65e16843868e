// Package rowtext holds the loose lexical heuristics shared by the sizer,
// the validator and the regex fallback provider: date tokens, amount tokens
// and description words found in noisy statement text.
package rowtext

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const monthNames = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	// 2024-01-15, 15/01/2024, 15/01, 15-01-24, 15.01.2024, 15 Jan 2024, 15Jan, Jan 15, 2024
	datePattern = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}[/\-]\d{1,2}(?:[/\-]\d{2,4})?|\d{1,2}\.\d{1,2}\.\d{2,4}|\d{1,2}\s*(?:` + monthNames + `)\.?(?:\s+\d{4})?|(?:` + monthNames + `)\.?\s+\d{1,2}(?:,?\s+\d{4})?)\b`)

	// 1,234.56  1.234,56  -45.00  (45.00)  £12.50  12.50 CR
	amountPattern = regexp.MustCompile(`(?:^|[\s(£$€+\-])(\(?[-+]?[£$€]?\s?(?:\d{1,3}(?:[,.]\d{3})+|\d+)[.,]\d{2}\)?(?:\s?(?i:CR|DR))?)(?:$|[\s),;|])`)

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// DateTokens returns every date-like substring of s.
func DateTokens(s string) []string {
	return datePattern.FindAllString(s, -1)
}

// AmountTokens returns every amount-like substring of s, ignoring digits
// that are part of a date token.
func AmountTokens(s string) []string {
	rest := datePattern.ReplaceAllString(s, " ")
	var out []string
	// Matches consume one separator on each side, so scan with a cursor to
	// catch adjacent amounts such as "12.00 34.00".
	for rest != "" {
		loc := amountPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		out = append(out, strings.TrimSpace(rest[loc[2]:loc[3]]))
		next := loc[3]
		if next <= 0 || next > len(rest) {
			break
		}
		rest = rest[next:]
	}
	return out
}

// LooksLikeTransactionRow reports whether a line has both a date-like and
// an amount-like token.
func LooksLikeTransactionRow(line string) bool {
	return datePattern.MatchString(line) && len(AmountTokens(line)) > 0
}

// ParseAmount converts "1,234.56", "-£1,234.56", "(12.00)", "1.234,56" or
// "12.00 DR" into a signed decimal.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "CR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer("£", "", "$", "", "€", "", "\u00a0", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")

	// The last separator followed by exactly two digits is the decimal point.
	if n := len(s); n > 3 && (s[n-3] == ',' || s[n-3] == '.') {
		intPart := strings.NewReplacer(",", "", ".", "").Replace(s[:n-3])
		s = intPart + "." + s[n-2:]
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"02-01-2006",
	"02-01-06",
	"02.01.2006",
	"02.01.06",
	"2 Jan 2006",
	"02 Jan 2006",
	"2Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
}

var shortLayouts = []string{
	"02/01",
	"2/1",
	"02-01",
	"2 Jan",
	"02 Jan",
	"2Jan",
	"2 January",
	"Jan 2",
	"January 2",
}

// DateCandidates interprets a date token in every plausible way. Tokens
// without a year produce dates in refYear. Day-first readings come first;
// month-first readings are added when the token is ambiguous.
func DateCandidates(token string, refYear int) []civil.Date {
	token = normalizeMonth(strings.TrimSpace(strings.TrimSuffix(token, ".")))
	var out []civil.Date
	seen := map[civil.Date]bool{}
	add := func(t time.Time) {
		d := civil.DateOf(t)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			add(t)
		}
	}
	for _, layout := range shortLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			add(time.Date(refYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
		}
	}
	// Month-first reading for numeric tokens such as 01/15/2024.
	for _, layout := range []string{"01/02/2006", "1/2/2006", "01/02/06", "01-02-2006", "01/02", "1/2"} {
		if t, err := time.Parse(layout, token); err == nil {
			if t.Year() == 0 {
				t = time.Date(refYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			}
			add(t)
		}
	}
	return out
}

// normalizeMonth title-cases month words so time.Parse accepts "15 JAN 2024".
func normalizeMonth(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	out := b.String()
	// time.Parse only knows "Sep" and "September".
	if !strings.Contains(out, "September") {
		out = strings.Replace(out, "Sept", "Sep", 1)
	}
	return out
}

// Words lowercases s and splits it into alphanumeric words of two or more
// characters, skipping pure numbers.
func Words(s string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if len([]rune(w)) < 2 || isNumber(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
