package rowtext

import (
	"testing"

	"cloud.google.com/go/civil"
)

func TestLooksLikeTransactionRow(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"15/01/2024 TESCO STORES 1234 45.60", true},
		{"15 Jan Card payment to AMAZON -12.99", true},
		{"2024-03-02 Salary ACME LTD 2,500.00 CR", true},
		{"Jan 5 Coffee (3.50)", true},
		{"03.02.2024 Miete 1.234,56", true},
		{"Opening balance 1,000.00", false},
		{"Statement period 01/01/2024 to 31/01/2024", false},
		{"MARKET 12 Main Street", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := LooksLikeTransactionRow(tt.line); got != tt.want {
				t.Errorf("LooksLikeTransactionRow(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestAmountTokens_Adjacent(t *testing.T) {
	got := AmountTokens("15/01/2024 Rent 950.00 1,050.25")
	if len(got) != 2 || got[0] != "950.00" || got[1] != "1,050.25" {
		t.Errorf("AmountTokens() = %v, want [950.00 1,050.25]", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1,234.56", "1234.56", true},
		{"-£1,234.56", "-1234.56", true},
		{"(12.00)", "-12", true},
		{"1.234,56", "1234.56", true},
		{"12.00 DR", "-12", true},
		{"2,500.00 CR", "2500", true},
		{"45", "45", true},
		{"abc", "0", false},
		{"", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseAmount(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got.String(), tt.want)
			}
		})
	}
}

func TestDateCandidates(t *testing.T) {
	jan15 := civil.Date{Year: 2024, Month: 1, Day: 15}

	tests := []struct {
		token string
		want  civil.Date
	}{
		{"2024-01-15", jan15},
		{"15/01/2024", jan15},
		{"15/01/24", jan15},
		{"15 Jan 2024", jan15},
		{"15 JAN", jan15},
		{"Jan 15, 2024", jan15},
		{"01/15/2024", jan15},
		{"15.01.2024", jan15},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			found := false
			for _, d := range DateCandidates(tt.token, 2024) {
				if d == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("DateCandidates(%q) = %v, want to include %v", tt.token, DateCandidates(tt.token, 2024), tt.want)
			}
		})
	}
}

func TestWords(t *testing.T) {
	got := Words("CARD PAYMENT to Tesco-Stores #1234 a")
	want := []string{"card", "payment", "to", "tesco", "stores"}
	if len(got) != len(want) {
		t.Fatalf("Words() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Words()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
