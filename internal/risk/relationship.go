package risk

import (
	"time"
)

// Familiarity tiers between a sender and a receiver.
const (
	FamiliarityNew     = "new"
	FamiliarityRare    = "rare"
	FamiliarityKnown   = "known"
	FamiliarityTrusted = "trusted"
)

// RelationshipResult is the Layer 1 output. It measures uncertainty,
// not fraud: a first-time receiver is unknown, not guilty.
type RelationshipResult struct {
	Score               int     `json:"userRiskScore"` // 0-100
	Familiarity         string  `json:"familiarity"`
	FirstTime           bool    `json:"isFirstTime"`
	LastTransactionDays int     `json:"lastTransactionDays"` // -1 when first time
	TransactionCount    int     `json:"transactionCount"`
	AvgPastAmount       float64 `json:"avgPastAmount"`
}

// AnalyzeRelationship scores sender->receiver familiarity from the
// pair's successful payment history.
func AnalyzeRelationship(pair []PairTxn, now time.Time) RelationshipResult {
	if len(pair) == 0 {
		return RelationshipResult{
			Score:               50,
			Familiarity:         FamiliarityNew,
			FirstTime:           true,
			LastTransactionDays: -1,
		}
	}

	var sum float64
	last := pair[0].At
	for _, t := range pair {
		sum += t.Amount
		if t.At.After(last) {
			last = t.At
		}
	}

	count := len(pair)
	lastDays := int(now.Sub(last).Hours() / 24)
	if lastDays < 0 {
		lastDays = 0
	}

	var familiarity string
	switch {
	case count >= 5:
		familiarity = FamiliarityTrusted
	case count >= 2:
		familiarity = FamiliarityKnown
	default:
		familiarity = FamiliarityRare
	}

	var score int
	switch {
	case lastDays > 90:
		score = 30
	case count == 1:
		score = 10
	case count <= 4:
		score = 5
	default:
		score = 0
	}

	return RelationshipResult{
		Score:               score,
		Familiarity:         familiarity,
		LastTransactionDays: lastDays,
		TransactionCount:    count,
		AvgPastAmount:       round2(sum / float64(count)),
	}
}
