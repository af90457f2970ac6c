package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/payshield/payshield/internal/history"
)

func factorTexts(factors []RiskFactor) []string {
	var out []string
	for _, f := range factors {
		out = append(out, f.Factor+" "+f.Detail)
	}
	return out
}

func TestColdStartAmountFactorHasNoRatio(t *testing.T) {
	ucx := &UserContext{
		Stats:    history.SenderStats{DaysSinceLast: 999},
		Receiver: ReceiverSummary{IsNew: true},
	}
	req := ruleReq(80000)
	l2 := AnalyzeAmount(80000, ucx.Stats)
	if l2.Score < 85 {
		t.Fatalf("amount score = %d, want >= 85", l2.Score)
	}

	factors := deriveRiskFactors(req, ucx, AnalyzeRelationship(nil, time.Now()), l2,
		ReceiverResult{Level: ReceiverLevelLow}, time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))

	var amountFactor string
	for _, text := range factorTexts(factors) {
		if strings.Contains(text, "Inf") || strings.Contains(text, "NaN") {
			t.Errorf("factor text leaks non-finite ratio: %q", text)
		}
		if strings.Contains(text, "no spending history") {
			amountFactor = text
		}
	}
	if amountFactor == "" {
		t.Fatalf("expected a cold-start amount factor, got %v", factorTexts(factors))
	}
	if !strings.Contains(amountFactor, "Rs.80000") {
		t.Errorf("factor should name the absolute amount: %q", amountFactor)
	}
}

func TestAmountFactorUsesRatioWithBaseline(t *testing.T) {
	ucx := &UserContext{
		Stats: history.SenderStats{AvgAmountOverall: 1000, AvgAmount30d: 1000, DaysSinceLast: 1},
	}
	l2 := AnalyzeAmount(25000, ucx.Stats)

	factors := deriveRiskFactors(ruleReq(25000), ucx, AnalyzeRelationship(nil, time.Now()), l2,
		ReceiverResult{Level: ReceiverLevelLow}, time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))

	found := false
	for _, text := range factorTexts(factors) {
		if strings.Contains(text, "25.0x") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a 25.0x ratio factor, got %v", factorTexts(factors))
	}
}

func TestSenderTravelFlagSurfacesAsFactor(t *testing.T) {
	ucx := &UserContext{
		Stats: history.SenderStats{
			DaysSinceLast:        1,
			LastCity:             "Delhi",
			ImpossibleTravelFlag: true,
			DistanceFromLastCity: 1150,
		},
	}
	factors := deriveRiskFactors(ruleReq(500), ucx, AnalyzeRelationship(nil, time.Now()),
		AmountResult{}, ReceiverResult{Level: ReceiverLevelLow},
		time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))

	found := false
	for _, f := range factors {
		if f.Factor == "Your recent locations look implausible" {
			found = true
			if !strings.Contains(f.Detail, "Delhi") || !strings.Contains(f.Detail, "1150 km") {
				t.Errorf("detail missing city or distance: %q", f.Detail)
			}
		}
	}
	if !found {
		t.Errorf("expected a travel factor, got %v", factorTexts(factors))
	}
}

func TestRiskyHistoryFactor(t *testing.T) {
	ucx := &UserContext{
		Stats:    history.SenderStats{DaysSinceLast: 1},
		Receiver: ReceiverSummary{RiskyHistory: true},
	}
	factors := deriveRiskFactors(ruleReq(500), ucx, AnalyzeRelationship(nil, time.Now()),
		AmountResult{}, ReceiverResult{Level: ReceiverLevelLow},
		time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))

	found := false
	for _, f := range factors {
		if f.Factor == "Troubled history with this receiver" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a troubled-history factor, got %v", factorTexts(factors))
	}
}
