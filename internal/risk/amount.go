package risk

import (
	"math"

	"github.com/payshield/payshield/internal/history"
)

// Amount risk levels.
const (
	AmountLevelLow      = "LOW"
	AmountLevelMedium   = "MEDIUM"
	AmountLevelHigh     = "HIGH"
	AmountLevelVeryHigh = "VERY_HIGH"
)

// scoreBand maps a threshold to a score. Bands are evaluated in order;
// the first band whose threshold the input meets wins.
type scoreBand struct {
	atLeast float64
	score   int
}

// Cold-start ladder: senders with no spending baseline are scored on
// the absolute amount.
var absoluteBands = []scoreBand{
	{75000, 85},
	{40000, 70},
	{20000, 55},
	{10000, 40},
	{5000, 25},
	{0, 10},
}

// Baseline ladder: senders with history are scored on the ratio of this
// amount to their overall average.
var ratioBands = []scoreBand{
	{20, 85},
	{10, 70},
	{5, 55},
	{3, 40},
	{2, 25},
	{1.2, 15},
	{0, 5},
}

const overMaxBump = 5

// AmountResult is the Layer 2 output: financial impact relative to the
// sender's own habits.
type AmountResult struct {
	Score            int     `json:"amountRiskScore"` // 0-100
	RatioToAvg       float64 `json:"ratioToAvg"`
	RatioToAvg7d     float64 `json:"ratioToAvg7d"`
	ExceedsRecentMax bool    `json:"exceedsRecentMax"`
	Level            string  `json:"riskLevel"`
}

// AnalyzeAmount scores a payment amount against the sender's spending
// statistics.
func AnalyzeAmount(amount float64, stats history.SenderStats) AmountResult {
	avg := stats.AvgAmountOverall
	if avg == 0 {
		avg = stats.AvgAmount30d
	}
	max := stats.MaxAmountOverall
	if max == 0 {
		max = stats.MaxAmount30d
	}

	ratio := math.Inf(1)
	if avg > 0 {
		ratio = amount / avg
	}
	ratio7d := math.Inf(1)
	if stats.AvgAmount7d > 0 {
		ratio7d = amount / stats.AvgAmount7d
	}
	exceedsMax := amount > max

	var score int
	if avg == 0 {
		score = pickBand(absoluteBands, amount)
	} else {
		score = pickBand(ratioBands, ratio)
		if exceedsMax {
			score = min(score+overMaxBump, 100)
		}
	}

	return AmountResult{
		Score:            score,
		RatioToAvg:       ratio,
		RatioToAvg7d:     ratio7d,
		ExceedsRecentMax: exceedsMax,
		Level:            amountLevel(score),
	}
}

func pickBand(bands []scoreBand, v float64) int {
	for _, b := range bands {
		if v >= b.atLeast {
			return b.score
		}
	}
	return bands[len(bands)-1].score
}

func amountLevel(score int) string {
	switch {
	case score <= 15:
		return AmountLevelLow
	case score <= 40:
		return AmountLevelMedium
	case score <= 65:
		return AmountLevelHigh
	default:
		return AmountLevelVeryHigh
	}
}
