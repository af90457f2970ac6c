package risk

import (
	"testing"
	"time"
)

func pairAt(now time.Time, daysAgo int, amounts ...float64) []PairTxn {
	var out []PairTxn
	for i, amt := range amounts {
		out = append(out, PairTxn{Amount: amt, At: now.Add(-time.Duration(daysAgo+i) * 24 * time.Hour)})
	}
	return out
}

func TestRelationshipFirstTime(t *testing.T) {
	got := AnalyzeRelationship(nil, time.Now())
	if got.Score != 50 {
		t.Errorf("score = %d, want 50", got.Score)
	}
	if got.Familiarity != FamiliarityNew || !got.FirstTime {
		t.Errorf("familiarity = %s, firstTime = %v", got.Familiarity, got.FirstTime)
	}
	if got.LastTransactionDays != -1 {
		t.Errorf("lastTransactionDays = %d, want -1", got.LastTransactionDays)
	}
}

func TestRelationshipTiers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name            string
		count           int
		wantFamiliarity string
		wantScore       int
	}{
		{"single past payment", 1, FamiliarityRare, 10},
		{"a few payments", 3, FamiliarityKnown, 5},
		{"regular receiver", 5, FamiliarityTrusted, 0},
		{"very regular receiver", 8, FamiliarityTrusted, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amounts := make([]float64, tt.count)
			for i := range amounts {
				amounts[i] = 500
			}
			got := AnalyzeRelationship(pairAt(now, 2, amounts...), now)
			if got.Familiarity != tt.wantFamiliarity {
				t.Errorf("familiarity = %s, want %s", got.Familiarity, tt.wantFamiliarity)
			}
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tt.wantScore)
			}
		})
	}
}

func TestRelationshipStaleOverridesCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := AnalyzeRelationship(pairAt(now, 120, 500, 500, 500, 500, 500, 500), now)
	if got.Score != 30 {
		t.Errorf("score = %d, want 30 for >90 day gap", got.Score)
	}
	if got.Familiarity != FamiliarityTrusted {
		t.Errorf("familiarity = %s, want trusted", got.Familiarity)
	}
}

func TestRelationshipIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pair := pairAt(now, 5, 100, 200, 300)
	a := AnalyzeRelationship(pair, now)
	b := AnalyzeRelationship(pair, now)
	if a != b {
		t.Errorf("results differ: %+v vs %+v", a, b)
	}
	if a.AvgPastAmount != 200 {
		t.Errorf("avgPastAmount = %v, want 200", a.AvgPastAmount)
	}
}
