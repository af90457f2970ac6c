package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/payshield/payshield/internal/geo"
)

// Rule flags attached to evaluations.
const (
	FlagVelocitySpike         = "VELOCITY_SPIKE"
	FlagNewReceiverHighAmount = "NEW_RECEIVER_HIGH_AMOUNT"
	FlagDeviceChange          = "DEVICE_CHANGE"
	FlagHighFailedTxn         = "HIGH_FAILED_TXN"
	FlagImpossibleTravel      = "IMPOSSIBLE_TRAVEL"
	FlagSuspiciousTravel      = "SUSPICIOUS_TRAVEL"
	FlagReceiverFlaggedByUser = "RECEIVER_FLAGGED_BY_USER"
)

// deviceChangePolicy controls the device-change rule. The rule is a
// deliberate no-op: shared family devices made it fire constantly, so
// it stays wired but contributes zero until re-tuned.
const deviceChangePolicy = 0.0

// defaultAvgBaseline stands in for avg_amount_30d when the sender has
// no history, so ratio math stays meaningful for brand-new accounts.
const defaultAvgBaseline = 1000.0

// RuleResult is the rules-engine verdict: an additive score, the flags
// raised, and a possible hard block that short-circuits the layers.
type RuleResult struct {
	Score       float64            `json:"ruleScore"` // 0.0 - 1.0
	Flags       []string           `json:"flags"`
	HardBlock   bool               `json:"hardBlock"`
	BlockReason string             `json:"blockReason,omitempty"`
	Breakdown   map[string]float64 `json:"ruleBreakdown"`
	GeoResult   *geo.Result        `json:"geoResult,omitempty"`
}

// EvaluateRules runs every fraud rule against the payment. The
// blacklist rule short-circuits: a hard block returns immediately and
// skips the remaining rules.
func EvaluateRules(req *TransactionRequest, ucx *UserContext, now time.Time) RuleResult {
	result := RuleResult{Breakdown: make(map[string]float64)}
	amount := req.Amount.InexactFloat64()

	if reason, blocked := checkBlacklist(ucx.Receiver); blocked {
		result.HardBlock = true
		result.BlockReason = reason
		return result
	}

	velocity := checkVelocity(ucx.Stats.TxnCount5min, ucx.Stats.TxnCount1h, ucx.Stats.DaysSinceLast)
	result.Breakdown["velocity"] = velocity
	if velocity > 0 {
		result.Flags = append(result.Flags, FlagVelocitySpike)
	}

	anomaly := checkAmountAnomaly(amount, ucx.Stats.AvgAmount30d, ucx.Stats.MaxAmount30d, ucx.Receiver.IsNew)
	result.Breakdown["amount_anomaly"] = anomaly
	if anomaly > 0 {
		result.Flags = append(result.Flags, FlagNewReceiverHighAmount)
	}

	device := checkDeviceChange()
	result.Breakdown["device_change"] = device
	if device > 0 {
		result.Flags = append(result.Flags, FlagDeviceChange)
	}

	failed := checkFailedPattern(ucx.Stats.FailedTxnCount7d)
	result.Breakdown["failed_pattern"] = failed
	if failed > 0 {
		result.Flags = append(result.Flags, FlagHighFailedTxn)
	}

	geoScore := checkGeoVelocity(req, ucx, now, &result)
	result.Breakdown["geo_velocity"] = geoScore
	if geoScore >= 0.40 {
		result.Flags = append(result.Flags, FlagImpossibleTravel)
	} else if geoScore >= 0.20 {
		result.Flags = append(result.Flags, FlagSuspiciousTravel)
	}

	result.Score = math.Min(velocity+anomaly+device+failed+geoScore, 1.0)
	return result
}

// checkBlacklist hard-blocks receivers with an overwhelming fraud
// record: ratio above 70% or 7+ confirmed hits, at 10+ reports either way.
func checkBlacklist(recv ReceiverSummary) (string, bool) {
	if recv.TotalTransactions < 10 {
		return "", false
	}
	if recv.FraudRatio > 0.70 {
		return fmt.Sprintf("receiver has %.0f%% fraud rate", recv.FraudRatio*100), true
	}
	if recv.FraudCount >= 7 {
		return fmt.Sprintf("receiver has %d fraud transactions", recv.FraudCount), true
	}
	return "", false
}

// checkVelocity scores transaction bursts: dormant accounts waking up
// with a burst, and raw 5-minute / 1-hour frequency.
func checkVelocity(count5min, count1h, daysSinceLast int) float64 {
	score := 0.0

	if daysSinceLast > 7 && count5min >= 3 {
		score += 0.35
	}

	switch {
	case count5min >= 6:
		score += 0.35
	case count5min >= 4:
		score += 0.25
	case count5min >= 3:
		score += 0.15
	}

	switch {
	case count1h >= 15:
		score += 0.20
	case count1h >= 10:
		score += 0.10
	}

	return math.Min(score, 1.0)
}

// checkAmountAnomaly scores deviation from the sender's spending
// baseline, with extra weight when the receiver is new.
func checkAmountAnomaly(amount, avg30d, max30d float64, newReceiver bool) float64 {
	score := 0.0

	if avg30d == 0 {
		avg30d = defaultAvgBaseline
	}
	ratio := amount / avg30d

	if newReceiver && amount > 3*avg30d {
		score += 0.30
	}
	if newReceiver && ratio > 4 {
		score += 0.20
	}

	switch {
	case ratio > 5:
		score += 0.25
	case ratio > 3:
		score += 0.15
	}

	if max30d > 0 && amount > max30d*1.5 {
		score += 0.10
	}

	return math.Min(score, 1.0)
}

func checkDeviceChange() float64 {
	return deviceChangePolicy
}

func checkFailedPattern(failedCount7d int) float64 {
	switch {
	case failedCount7d >= 5:
		return 0.20
	case failedCount7d >= 3:
		return 0.10
	}
	return 0.0
}

// checkGeoVelocity compares the payment's location against the sender's
// last known location: the most recent ledger transaction with
// coordinates, or failing that the newest city in the historical
// dataset. No location on either side skips the rule.
func checkGeoVelocity(req *TransactionRequest, ucx *UserContext, now time.Time, result *RuleResult) float64 {
	if req.Lat == nil || req.Lon == nil {
		return 0.0
	}

	var prev geo.Event
	last := ucx.LastTxn
	switch {
	case last != nil && last.Lat != nil && last.Lon != nil:
		prev = geo.Event{Lat: *last.Lat, Lon: *last.Lon, Timestamp: last.CreatedAt}
	case len(ucx.Cities) > 0:
		prev = ucx.Cities[len(ucx.Cities)-1]
	default:
		return 0.0
	}

	r := geo.Check(prev, geo.Event{Lat: *req.Lat, Lon: *req.Lon, Timestamp: now})
	result.GeoResult = &r
	return r.RiskScore
}
