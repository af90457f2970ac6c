package risk

import "math"

// Aggregation weights. Receiver behavior dominates suspicion; amount
// sets the damage multiplier.
const (
	weightReceiver = 0.60
	weightUser     = 0.25
	weightAmount   = 0.15

	// receiverFloorCutoff and receiverFloorShare implement the
	// high-risk receiver override: a fraudulent receiver must surface
	// as high risk regardless of amount. The floor is 90% of the raw
	// receiver score so the final value still reflects nuance.
	receiverFloorCutoff = 0.70
	receiverFloorShare  = 0.90
)

// Final action thresholds on the 0-100 scale.
const (
	allowBelow = 30
	warnBelow  = 65
)

// FinalResult is the aggregation engine's output.
type FinalResult struct {
	Score  int    `json:"finalRiskScore"` // 0-100
	Action string `json:"action"`
	Level  string `json:"riskLevel"`

	Components struct {
		UserRisk     int `json:"userRisk"`
		AmountRisk   int `json:"amountRisk"`
		ReceiverRisk int `json:"receiverRisk"`
	} `json:"components"`
}

// ComputeFinalRisk combines the three layer scores into a final score
// and action. Pure arithmetic: no store access, no model calls.
func ComputeFinalRisk(userScore, amountScore, receiverScore int) FinalResult {
	u := float64(userScore) / 100
	a := float64(amountScore) / 100
	r := float64(receiverScore) / 100

	suspicion := weightReceiver*r + weightUser*u + weightAmount*a
	damage := 0.5 + 0.5*a
	weighted := suspicion * damage

	floor := 0.0
	if r >= receiverFloorCutoff {
		floor = receiverFloorShare * r
	}

	final := clamp01(math.Max(weighted, floor))
	percent := int(math.Round(final * 100))

	var result FinalResult
	result.Score = percent
	result.Components.UserRisk = userScore
	result.Components.AmountRisk = amountScore
	result.Components.ReceiverRisk = receiverScore

	switch {
	case percent < allowBelow:
		result.Action = ActionAllow
		result.Level = LevelLow
	case percent < warnBelow:
		result.Action = ActionWarn
		result.Level = LevelModerate
	default:
		result.Action = ActionBlock
		result.Level = LevelHigh
	}
	return result
}
