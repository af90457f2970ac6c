package risk

import (
	"fmt"
	"time"
)

const maxRiskFactors = 6

// deriveRiskFactors turns layer outputs into human-readable
// explanations, strongest signals first, capped at maxRiskFactors.
func deriveRiskFactors(
	req *TransactionRequest,
	ucx *UserContext,
	l1 RelationshipResult,
	l2 AmountResult,
	l3 ReceiverResult,
	now time.Time,
) []RiskFactor {
	var factors []RiskFactor
	amount := req.Amount.InexactFloat64()

	switch {
	case l1.Familiarity == FamiliarityNew:
		factors = append(factors, RiskFactor{
			Factor:   "First-time receiver - verify before paying",
			Severity: "high",
			Detail:   "You have never transacted with this receiver before. First-time payments carry higher risk.",
		})
	case l1.Familiarity == FamiliarityRare:
		factors = append(factors, RiskFactor{
			Factor:   fmt.Sprintf("Rarely used receiver (%d past transaction)", l1.TransactionCount),
			Severity: "medium",
			Detail: fmt.Sprintf("You have only sent money to this receiver %d time before, %d days ago.",
				l1.TransactionCount, l1.LastTransactionDays),
		})
	case l1.Familiarity == FamiliarityKnown && l1.LastTransactionDays > 30:
		factors = append(factors, RiskFactor{
			Factor:   fmt.Sprintf("No recent activity with receiver (%d days gap)", l1.LastTransactionDays),
			Severity: "low",
			Detail: fmt.Sprintf("Last transaction was %d days ago across %d past payments.",
				l1.LastTransactionDays, l1.TransactionCount),
		})
	}

	if ucx.Receiver.RiskyHistory {
		factors = append(factors, RiskFactor{
			Factor:   "Troubled history with this receiver",
			Severity: "high",
			Detail:   "Your past payments to this receiver include failures, blocks, or high-risk evaluations.",
		})
	}

	avg := ucx.Stats.AvgAmountOverall
	if avg == 0 {
		avg = ucx.Stats.AvgAmount30d
	}
	if avg > 0 {
		ratio := amount / avg
		switch {
		case l2.Score >= 85:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Extreme amount - %.1fx your average (Rs.%.0f)", ratio, avg),
				Severity: "critical",
				Detail: fmt.Sprintf("Rs.%.0f is %.1fx higher than your average of Rs.%.0f. This is extremely unusual.",
					amount, ratio, avg),
			})
		case l2.Score >= 70:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Unusually large amount - %.1fx your average", ratio),
				Severity: "high",
				Detail:   fmt.Sprintf("Rs.%.0f is %.1fx your average spending of Rs.%.0f.", amount, ratio, avg),
			})
		case l2.Score >= 40:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Above-average amount (%.1fx your usual)", ratio),
				Severity: "medium",
				Detail:   fmt.Sprintf("This amount is %.1fx higher than your typical transactions.", ratio),
			})
		}
	} else {
		// No spending baseline yet: phrase the signal on the absolute
		// amount instead of a ratio.
		switch {
		case l2.Score >= 85:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Very large amount (Rs.%.0f) with no spending history", amount),
				Severity: "critical",
				Detail:   fmt.Sprintf("Rs.%.0f is a very large payment for an account with no transaction history.", amount),
			})
		case l2.Score >= 70:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Large amount (Rs.%.0f) with no spending history", amount),
				Severity: "high",
				Detail:   fmt.Sprintf("Rs.%.0f is a large first payment for this account.", amount),
			})
		case l2.Score >= 40:
			factors = append(factors, RiskFactor{
				Factor:   fmt.Sprintf("Sizable amount (Rs.%.0f) with no spending history", amount),
				Severity: "medium",
				Detail:   "There is no transaction history yet to compare this amount against.",
			})
		}
	}
	if l2.ExceedsRecentMax && l2.Score < 85 {
		factors = append(factors, RiskFactor{
			Factor:   "Exceeds your recent maximum transaction",
			Severity: "medium",
			Detail:   "This amount is higher than your largest transaction in the past 30 days.",
		})
	}

	if n := ucx.Receiver.Profile.ImpossibleTravelCount; n > 0 {
		detail := "Receiver has transactions from physically distant cities in impossibly short timeframes."
		if events := ucx.Receiver.Profile.ImpossibleTravels; len(events) > 0 {
			first := events[0]
			detail = fmt.Sprintf("Receiver appeared in %s and %s within %.0f minutes (%.0f km apart)",
				first.FromCity, first.ToCity, first.TimeGapMin, first.DistanceKM)
			if len(events) > 1 {
				detail += fmt.Sprintf(". %d impossible travel events detected in total.", len(events))
			}
		}
		factors = append(factors, RiskFactor{
			Factor:   fmt.Sprintf("Impossible travel detected (%d events)", n),
			Severity: "critical",
			Detail:   detail,
		})
	} else if l3.Level == ReceiverLevelHighRisk {
		factors = append(factors, RiskFactor{
			Factor:   "Suspicious receiver activity pattern",
			Severity: "critical",
			Detail:   fmt.Sprintf("Receiver risk score is %d/100. Multiple behavioral anomalies detected.", l3.Score),
		})
	}
	if l3.Level == ReceiverLevelSuspicious {
		factors = append(factors, RiskFactor{
			Factor:   "Receiver shows moderate risk signals",
			Severity: "medium",
			Detail:   fmt.Sprintf("Receiver risk score is %d/100. Some unusual patterns observed.", l3.Score),
		})
	}

	if ucx.Stats.ImpossibleTravelFlag {
		factors = append(factors, RiskFactor{
			Factor:   "Your recent locations look implausible",
			Severity: "high",
			Detail: fmt.Sprintf("Your last transactions came from cities %.0f km apart (last seen in %s) faster than travel allows.",
				ucx.Stats.DistanceFromLastCity, ucx.Stats.LastCity),
		})
	}

	if l3.Features.IsNight == 1 {
		factors = append(factors, RiskFactor{
			Factor:   fmt.Sprintf("Transaction at unusual time (%s)", now.Format("15:04")),
			Severity: "medium",
			Detail:   "Transactions between 10 PM and 5 AM are flagged as higher risk.",
		})
	}

	if len(factors) == 0 {
		factors = append(factors, RiskFactor{
			Factor:   "All checks passed - transaction looks safe",
			Severity: "safe",
			Detail:   "No risk signals detected across relationship, amount, and receiver analysis.",
		})
	}
	if len(factors) > maxRiskFactors {
		factors = factors[:maxRiskFactors]
	}
	return factors
}

// deriveRecommendations suggests next steps for the final action.
func deriveRecommendations(action string, l1 RelationshipResult, l2 AmountResult) []string {
	switch action {
	case ActionBlock:
		return []string{
			"This transaction has been blocked for your safety.",
			"Contact support if you believe this is an error.",
		}
	case ActionWarn:
		recs := []string{"Double-check the receiver's ID before proceeding."}
		if l1.Familiarity == FamiliarityNew {
			recs = append(recs, "Consider making a small test payment first.")
		}
		if l2.Score >= 50 {
			recs = append(recs, "This amount is higher than your usual - proceed carefully.")
		}
		return recs
	default:
		return []string{"Transaction appears safe based on your history."}
	}
}
