package risk

import (
	"slices"

	"github.com/payshield/payshield/internal/identity"
)

// Legacy decision-path thresholds on the 0-1 scale.
const (
	thresholdLow      = 0.30
	thresholdModerate = 0.50
	thresholdHigh     = 0.75
)

// Legacy risk levels (four buckets, unlike the final engine's three).
const (
	DecisionLevelLow      = "LOW"
	DecisionLevelModerate = "MODERATE"
	DecisionLevelHigh     = "HIGH"
	DecisionLevelVeryHigh = "VERY_HIGH"
)

// Decision is the tier-adjusted policy verdict for a 0-1 risk score.
type Decision struct {
	Action          string   `json:"action"`
	Level           string   `json:"riskLevel"`
	RequiresOTP     bool     `json:"requiresOtp"`
	Message         string   `json:"message"`
	Recommendations []string `json:"recommendations"`
}

// Decide maps a combined 0-1 risk score to an action, adjusted by the
// sender's trust tier: GOLD reduces friction, BRONZE adds it.
func Decide(score float64, flags []string, tier identity.Tier) Decision {
	level := decisionLevel(score)
	action := baseAction(level)
	action, requiresOTP := adjustForTier(action, score, tier)

	return Decision{
		Action:          action,
		Level:           level,
		RequiresOTP:     requiresOTP,
		Message:         decisionMessage(action, flags),
		Recommendations: decisionRecommendations(level, flags),
	}
}

func decisionLevel(score float64) string {
	switch {
	case score < thresholdLow:
		return DecisionLevelLow
	case score < thresholdModerate:
		return DecisionLevelModerate
	case score < thresholdHigh:
		return DecisionLevelHigh
	default:
		return DecisionLevelVeryHigh
	}
}

func baseAction(level string) string {
	switch level {
	case DecisionLevelLow:
		return ActionAllow
	case DecisionLevelModerate:
		return ActionWarning
	case DecisionLevelHigh:
		return ActionOTPRequired
	default:
		return ActionBlock
	}
}

func adjustForTier(action string, score float64, tier identity.Tier) (string, bool) {
	requiresOTP := action == ActionOTPRequired

	switch tier {
	case identity.TierGold:
		if action == ActionOTPRequired && score < 0.70 {
			return ActionWarning, false
		}
		if action == ActionWarning && score < 0.40 {
			return ActionAllow, false
		}
	case identity.TierBronze:
		if action == ActionWarning && score > 0.50 {
			return ActionOTPRequired, true
		}
		if action == ActionAllow && score > 0.25 {
			return ActionWarning, false
		}
	}
	return action, requiresOTP
}

func decisionMessage(action string, flags []string) string {
	switch action {
	case ActionAllow:
		return "Transaction approved. Low risk detected."
	case ActionWarning:
		switch {
		case slices.Contains(flags, FlagNewReceiverHighAmount):
			return "Warning: this is a high amount to a new receiver. Please verify before proceeding."
		case slices.Contains(flags, FlagVelocitySpike):
			return "Warning: unusual transaction frequency detected. Please verify this transaction."
		default:
			return "Warning: moderate risk detected. Please review transaction details carefully."
		}
	case ActionOTPRequired:
		return "For your security, please verify this transaction with OTP."
	case ActionBlock:
		if slices.Contains(flags, FlagNewReceiverHighAmount) && slices.Contains(flags, FlagVelocitySpike) {
			return "Transaction blocked: multiple high-risk patterns detected. Contact support if this is legitimate."
		}
		return "Transaction blocked: high fraud risk detected. Contact support if needed."
	}
	return "Transaction under review."
}

func decisionRecommendations(level string, flags []string) []string {
	var recs []string

	if slices.Contains(flags, FlagNewReceiverHighAmount) {
		recs = append(recs,
			"Verify receiver details carefully",
			"Start with a smaller test transaction")
	}
	if slices.Contains(flags, FlagVelocitySpike) {
		recs = append(recs,
			"Wait a few minutes before next transaction",
			"Ensure your account is secure")
	}
	if slices.Contains(flags, FlagDeviceChange) {
		recs = append(recs, "Verify you're using your trusted device")
	}
	if slices.Contains(flags, FlagHighFailedTxn) {
		recs = append(recs,
			"Check your account for suspicious activity",
			"Update your password if needed")
	}
	if level == DecisionLevelHigh || level == DecisionLevelVeryHigh {
		recs = append(recs, "Contact support if you believe this is an error")
	}
	return recs
}
