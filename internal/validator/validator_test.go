package validator

import (
	"math"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/shopspring/decimal"
)

const sourceText = `Statement for March 2024
05/03/2024 BGC ACME LTD 500.00
06/03/2024 CARD PAYMENT TESCO STORES 45.60
07/03/2024 DIRECT DEBIT COUNCIL TAX 120.00
`

func candidate(desc, amount string, date civil.Date, class domain.Classification) domain.CandidateTransaction {
	return domain.CandidateTransaction{
		Date:           date,
		Description:    desc,
		Amount:         decimal.RequireFromString(amount),
		Classification: class,
	}
}

var (
	mar5  = civil.Date{Year: 2024, Month: 3, Day: 5}
	mar6  = civil.Date{Year: 2024, Month: 3, Day: 6}
	mar20 = civil.Date{Year: 2024, Month: 3, Day: 20}
)

func TestValidate_ScenarioC_PaymentReceived(t *testing.T) {
	v := New(DefaultConfig(), "05/03/2024 BGC ACME LTD 500.00\n06/03/2024 CARD PURCHASE TESCO 45.60\n")
	c := candidate("PAYMENT RECEIVED", "500.00", mar5, "")
	if m := v.source.Match(c, 0); m.Overlap >= DefaultConfig().InflowMinOverlap {
		t.Fatalf("fixture overlap = %.2f, want below the inflow floor", m.Overlap)
	}

	res := v.Validate([]domain.CandidateTransaction{c})

	if len(res.Kept) != 1 {
		t.Fatalf("kept %d candidates, discards %v", len(res.Kept), res.Discards)
	}
	got := res.Kept[0]
	if got.Classification != domain.ClassificationIncome {
		t.Errorf("Classification = %q, want income", got.Classification)
	}
	if got.Tier != domain.TierHigh {
		t.Errorf("Tier = %q, want high", got.Tier)
	}
	if !got.Valid {
		t.Error("kept candidate should be valid")
	}
	if res.Confidence == nil || *res.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", res.Confidence)
	}
}

func TestValidate_Tiers(t *testing.T) {
	tests := []struct {
		name       string
		cand       domain.CandidateTransaction
		wantTier   domain.Tier
		wantClass  domain.Classification
		wantReason string
	}{
		{
			name:      "outflow full match is high",
			cand:      candidate("CARD PAYMENT TESCO STORES", "-45.60", mar6, ""),
			wantTier:  domain.TierHigh,
			wantClass: domain.ClassificationExpense,
		},
		{
			name:      "outflow amount only is medium",
			cand:      candidate("CARD PAYMENT TESCO STORES", "-45.60", mar20, ""),
			wantTier:  domain.TierMedium,
			wantClass: domain.ClassificationExpense,
		},
		{
			name:      "outflow low overlap but both matches is medium",
			cand:      candidate("TESCO EXPRESS LONDON GB", "-45.60", mar6, domain.ClassificationExpense),
			wantTier:  domain.TierMedium,
			wantClass: domain.ClassificationExpense,
		},
		{
			name:       "outflow without overlap is discarded",
			cand:       candidate("NETFLIX SUBSCRIPTION", "-45.60", mar6, domain.ClassificationExpense),
			wantReason: ReasonUncorroboratedOut,
		},
		{
			name:      "inflow date only is medium",
			cand:      candidate("BGC ACME LTD", "499.00", mar5, domain.ClassificationIncome),
			wantTier:  domain.TierMedium,
			wantClass: domain.ClassificationIncome,
		},
		{
			name:      "inflow overlap only is low",
			cand:      candidate("ACME LTD", "10.00", mar20, domain.ClassificationIncome),
			wantTier:  domain.TierLow,
			wantClass: domain.ClassificationIncome,
		},
		{
			name:       "inflow with nothing is discarded",
			cand:       candidate("LOTTERY WIN", "10.00", mar20, domain.ClassificationIncome),
			wantReason: ReasonUncorroboratedIn,
		},
		{
			name:       "zero amount without keywords and no match",
			cand:       candidate("ADJUSTMENT", "0", mar20, ""),
			wantReason: ReasonUnclassifiable,
		},
		{
			name:       "missing date",
			cand:       candidate("CARD PAYMENT", "-1.00", civil.Date{}, ""),
			wantReason: ReasonMissingDate,
		},
		{
			name:       "missing description",
			cand:       candidate("  ", "-1.00", mar6, ""),
			wantReason: ReasonMissingDescription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(DefaultConfig(), sourceText)
			res := v.Validate([]domain.CandidateTransaction{tt.cand})

			if tt.wantReason != "" {
				if len(res.Kept) != 0 || len(res.Discards) != 1 {
					t.Fatalf("kept=%d discards=%d, want 0/1", len(res.Kept), len(res.Discards))
				}
				if !strings.HasPrefix(res.Discards[0].Reason, tt.wantReason) {
					t.Errorf("Reason = %q, want prefix %q", res.Discards[0].Reason, tt.wantReason)
				}
				if res.Confidence != nil {
					t.Errorf("Confidence = %v, want nil", *res.Confidence)
				}
				return
			}

			if len(res.Kept) != 1 {
				t.Fatalf("kept %d, discards %v", len(res.Kept), res.Discards)
			}
			if res.Kept[0].Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", res.Kept[0].Tier, tt.wantTier)
			}
			if res.Kept[0].Classification != tt.wantClass {
				t.Errorf("Classification = %q, want %q", res.Kept[0].Classification, tt.wantClass)
			}
		})
	}
}

func TestValidate_UnresolvedClassification(t *testing.T) {
	v := New(DefaultConfig(), "07/03/2024 COUNCIL TAX 0.00\n")
	res := v.Validate([]domain.CandidateTransaction{
		candidate("COUNCIL TAX", "0", civil.Date{Year: 2024, Month: 3, Day: 7}, ""),
	})

	if len(res.Kept) != 1 {
		t.Fatalf("kept %d, discards %v", len(res.Kept), res.Discards)
	}
	if res.Kept[0].Classification != domain.ClassificationExpense {
		t.Errorf("Classification = %q, want expense (outflow rule tried first)", res.Kept[0].Classification)
	}
}

func TestValidate_SignFollowsClassification(t *testing.T) {
	v := New(DefaultConfig(), sourceText)
	res := v.Validate([]domain.CandidateTransaction{
		candidate("PAYMENT RECEIVED", "-500.00", mar5, domain.ClassificationIncome),
		candidate("CARD PAYMENT TESCO STORES", "45.60", mar6, ""),
	})

	if len(res.Kept) != 2 {
		t.Fatalf("kept %d, discards %v", len(res.Kept), res.Discards)
	}
	if !res.Kept[0].Amount.Equal(decimal.RequireFromString("500")) {
		t.Errorf("income amount = %s, want 500", res.Kept[0].Amount)
	}
	if res.Kept[1].Classification != domain.ClassificationExpense {
		t.Errorf("keyword inference = %q, want expense", res.Kept[1].Classification)
	}
	if !res.Kept[1].Amount.Equal(decimal.RequireFromString("-45.60")) {
		t.Errorf("expense amount = %s, want -45.60", res.Kept[1].Amount)
	}
}

func TestValidate_ConfidenceIsMeanTierScore(t *testing.T) {
	v := New(DefaultConfig(), sourceText)
	res := v.Validate([]domain.CandidateTransaction{
		candidate("CARD PAYMENT TESCO STORES", "-45.60", mar6, ""),
		candidate("ACME LTD", "10.00", mar20, domain.ClassificationIncome),
		candidate("LOTTERY WIN", "10.00", mar20, domain.ClassificationIncome),
	})

	if len(res.Kept) != 2 || len(res.Discards) != 1 {
		t.Fatalf("kept=%d discards=%d, want 2/1", len(res.Kept), len(res.Discards))
	}
	if res.Discards[0].Index != 2 {
		t.Errorf("discard index = %d, want 2", res.Discards[0].Index)
	}
	want := (1.0 + 1.0/3.0) / 2
	if res.Confidence == nil || math.Abs(*res.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", res.Confidence, want)
	}
}

func TestValidate_Empty(t *testing.T) {
	res := New(DefaultConfig(), sourceText).Validate(nil)
	if res.Confidence != nil || len(res.Kept) != 0 || len(res.Discards) != 0 {
		t.Errorf("Validate(nil) = %+v, want zero result", res)
	}
}

func TestValidate_DateWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateWindowDays = 2
	v := New(cfg, sourceText)

	res := v.Validate([]domain.CandidateTransaction{
		candidate("BGC ACME LTD", "500.00", civil.Date{Year: 2024, Month: 3, Day: 9}, domain.ClassificationIncome),
	})
	if len(res.Kept) != 1 || res.Kept[0].Tier != domain.TierHigh {
		t.Errorf("kept = %+v, want one high-tier candidate", res.Kept)
	}
}

func TestInflowTier_Monotonic(t *testing.T) {
	v := New(DefaultConfig(), "")
	rank := map[domain.Tier]int{domain.TierLow: 1, domain.TierMedium: 2, domain.TierHigh: 3}

	for _, overlap := range []float64{0, 0.1, 0.15, 0.5, 1} {
		both, _ := v.inflowTier(Match{AmountMatch: true, DateMatch: true, Overlap: overlap})
		for _, one := range []Match{
			{AmountMatch: true, Overlap: overlap},
			{DateMatch: true, Overlap: overlap},
			{Overlap: overlap},
		} {
			tier, _ := v.inflowTier(one)
			if rank[both] < rank[tier] {
				t.Errorf("overlap %.2f: both matches gave %q, fewer matches gave %q", overlap, both, tier)
			}
		}
	}
}

func TestInferClassification(t *testing.T) {
	tests := []struct {
		desc   string
		amount string
		class  domain.Classification
		want   domain.Classification
		ok     bool
	}{
		{"anything", "-5", domain.ClassificationIncome, domain.ClassificationIncome, true},
		{"PAYMENT RECEIVED", "0", "", domain.ClassificationIncome, true},
		{"SALARY ACME", "-100", "", domain.ClassificationIncome, true},
		{"CARD PAYMENT TESCO", "12", "", domain.ClassificationExpense, true},
		{"ATM WITHDRAWAL", "0", "", domain.ClassificationExpense, true},
		{"TESCO", "12", "", domain.ClassificationIncome, true},
		{"TESCO", "-12", "", domain.ClassificationExpense, true},
		{"TESCO", "0", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.desc+"/"+tt.amount, func(t *testing.T) {
			got, ok := InferClassification(candidate(tt.desc, tt.amount, mar5, tt.class))
			if got != tt.want || ok != tt.ok {
				t.Errorf("InferClassification() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	c, ok := Normalize(candidate("CARD PAYMENT TESCO", "12.00", mar5, ""))
	if !ok || c.Classification != domain.ClassificationExpense || c.Amount.StringFixed(2) != "-12.00" {
		t.Errorf("Normalize() = %q %s %v", c.Classification, c.Amount, ok)
	}

	if _, ok := Normalize(candidate("TESCO", "0", mar5, "")); ok {
		t.Error("zero amount without keywords should stay unresolved")
	}
}
