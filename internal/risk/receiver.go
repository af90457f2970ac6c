package risk

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/payshield/payshield/internal/classifier"
	"github.com/payshield/payshield/internal/metrics"
)

// Receiver risk levels.
const (
	ReceiverLevelLow        = "LOW"
	ReceiverLevelGuarded    = "GUARDED"
	ReceiverLevelSuspicious = "SUSPICIOUS"
	ReceiverLevelHighRisk   = "HIGH_RISK"
)

// classifierBudget bounds one model call. An expired budget falls back
// to the heuristic, same as a missing model.
const classifierBudget = 150 * time.Millisecond

// FeatureVector is the typed feature set for receiver scoring. The
// struct field order up to RiskProfile is the model's scoring order;
// Slice() depends on it. Fields after RiskProfile feed the heuristic
// only and are not part of the vector.
type FeatureVector struct {
	Amount           float64 `json:"amount"`
	PaymentMode      float64 `json:"payment_mode"`  // 0 = standard transfer
	ReceiverType     float64 `json:"receiver_type"` // 0 = personal, 1 = merchant-like
	IsNewReceiver    float64 `json:"is_new_receiver"`
	AvgAmount7d      float64 `json:"avg_amount_7d"`
	AvgAmount30d     float64 `json:"avg_amount_30d"`
	MaxAmount7d      float64 `json:"max_amount_7d"`
	TxnCount1h       float64 `json:"txn_count_1h"`
	TxnCount24h      float64 `json:"txn_count_24h"`
	DaysSinceLast    float64 `json:"days_since_last_txn"`
	NightTxnRatio    float64 `json:"night_txn_ratio"`
	LocationMismatch float64 `json:"location_mismatch"`
	IsNight          float64 `json:"is_night"`
	IsRoundAmount    float64 `json:"is_round_amount"`
	VelocityCheck    float64 `json:"velocity_check"`
	DeviationFromAvg float64 `json:"deviation_from_sender_avg"`
	ExceedsRecentMax float64 `json:"exceeds_recent_max"`
	AmountLog        float64 `json:"amount_log"`
	HourSin          float64 `json:"hour_sin"`
	HourCos          float64 `json:"hour_cos"`
	Ratio30d         float64 `json:"ratio_30d"`
	RiskProfile      float64 `json:"risk_profile"`

	// Heuristic-only signals.
	UnusualHour           float64 `json:"unusual_hour"`
	ImpossibleTravelCount float64 `json:"impossible_travel_count"`
	FraudFlagRatio        float64 `json:"fraud_flag_ratio"`
}

// FeatureNames lists the vector's feature names in scoring order.
// A loaded model is rejected unless its schema matches exactly.
var FeatureNames = []string{
	"amount", "payment_mode", "receiver_type", "is_new_receiver",
	"avg_amount_7d", "avg_amount_30d", "max_amount_7d",
	"txn_count_1h", "txn_count_24h", "days_since_last_txn", "night_txn_ratio",
	"location_mismatch", "is_night", "is_round_amount", "velocity_check",
	"deviation_from_sender_avg", "exceeds_recent_max",
	"amount_log", "hour_sin", "hour_cos", "ratio_30d", "risk_profile",
}

// Slice returns the numeric vector in scoring order.
func (f *FeatureVector) Slice() []float64 {
	return []float64{
		f.Amount, f.PaymentMode, f.ReceiverType, f.IsNewReceiver,
		f.AvgAmount7d, f.AvgAmount30d, f.MaxAmount7d,
		f.TxnCount1h, f.TxnCount24h, f.DaysSinceLast, f.NightTxnRatio,
		f.LocationMismatch, f.IsNight, f.IsRoundAmount, f.VelocityCheck,
		f.DeviationFromAvg, f.ExceedsRecentMax,
		f.AmountLog, f.HourSin, f.HourCos, f.Ratio30d, f.RiskProfile,
	}
}

// ReceiverResult is the Layer 3 output: how much the receiver behaves
// like a fraud endpoint.
type ReceiverResult struct {
	Score            int           `json:"receiverRiskScore"` // 0-100
	FraudProbability float64       `json:"fraudProbability"`  // 0.0 - 1.0
	Level            string        `json:"riskLevel"`
	Features         FeatureVector `json:"featuresUsed"`
	UsedModel        bool          `json:"usedModel"`
}

// BuildFeatures engineers the receiver feature vector from the payment
// and the assembled context.
func BuildFeatures(amount float64, at time.Time, ucx *UserContext) FeatureVector {
	stats := ucx.Stats
	recv := ucx.Receiver
	hour := at.Hour()

	f := FeatureVector{
		Amount:        amount,
		AvgAmount7d:   stats.AvgAmount7d,
		AvgAmount30d:  stats.AvgAmount30d,
		MaxAmount7d:   stats.MaxAmount7d,
		TxnCount1h:    float64(stats.TxnCount1h),
		TxnCount24h:   float64(stats.TxnCount24h),
		DaysSinceLast: float64(stats.DaysSinceLast),
		NightTxnRatio: round4(stats.NightTxnRatio),

		ImpossibleTravelCount: float64(recv.Profile.ImpossibleTravelCount),
		FraudFlagRatio:        round4(recv.FraudRatio),
	}

	if recv.IsNew {
		f.IsNewReceiver = 1
	}
	if recv.Profile.LocationMismatches > 0 {
		f.LocationMismatch = 1
	}
	if recv.FraudRatio > 0.5 {
		f.ReceiverType = 1
	}
	if hour >= 22 || hour <= 5 {
		f.IsNight = 1
	}
	if amount > 0 && math.Mod(amount, 1000) == 0 {
		f.IsRoundAmount = 1
	}
	if stats.TxnCount1h > 2 {
		f.VelocityCheck = 1
	}
	if amount > stats.MaxAmount7d {
		f.ExceedsRecentMax = 1
	}

	f.UnusualHour = 1
	for _, h := range stats.FrequentHours {
		if h == hour {
			f.UnusualHour = 0
			break
		}
	}

	f.DeviationFromAvg = round4((amount - stats.AvgAmount30d) / (stats.AvgAmount30d + 1))
	f.Ratio30d = round4(amount / (stats.AvgAmount30d + 1))
	f.AmountLog = round4(math.Log1p(amount))
	f.HourSin = round4(math.Sin(2 * math.Pi * float64(hour) / 24))
	f.HourCos = round4(math.Cos(2 * math.Pi * float64(hour) / 24))

	if f.FraudFlagRatio >= 0.5 {
		f.RiskProfile++
	}
	if f.ImpossibleTravelCount > 0 {
		f.RiskProfile++
	}
	if f.IsNewReceiver == 1 {
		f.RiskProfile++
	}

	return f
}

// AnalyzeReceiver scores the receiver with the classifier when one is
// loaded and healthy, falling back to the heuristic schedule otherwise.
func AnalyzeReceiver(ctx context.Context, model classifier.Classifier, features FeatureVector, logger *slog.Logger) ReceiverResult {
	var (
		prob      float64
		usedModel bool
	)

	if model != nil {
		mctx, cancel := context.WithTimeout(ctx, classifierBudget)
		p, err := model.Predict(mctx, features.Slice())
		cancel()
		if err != nil {
			logger.Warn("classifier prediction failed, using heuristic", "error", err)
			metrics.ClassifierFallbacksTotal.Inc()
			prob = heuristicScore(features)
		} else {
			prob = clamp01(p)
			usedModel = true
		}
	} else {
		metrics.ClassifierFallbacksTotal.Inc()
		prob = heuristicScore(features)
	}

	score := int(math.Round(prob * 100))
	return ReceiverResult{
		Score:            score,
		FraudProbability: round4(prob),
		Level:            receiverLevel(score),
		Features:         features,
		UsedModel:        usedModel,
	}
}

// heuristicScore is the fallback schedule: additive points per
// behavioral signal, capped at 1.0.
func heuristicScore(f FeatureVector) float64 {
	score := 0.0

	switch dev := f.DeviationFromAvg; {
	case dev >= 10:
		score += 0.40
	case dev >= 5:
		score += 0.30
	case dev >= 2:
		score += 0.20
	case dev >= 1:
		score += 0.10
	}

	if f.IsNight == 1 {
		score += 0.15
	}
	if f.UnusualHour == 1 {
		score += 0.10
	}
	if f.ExceedsRecentMax == 1 {
		score += 0.10
	}
	if f.VelocityCheck == 1 {
		score += 0.10
	}

	if f.ImpossibleTravelCount > 0 {
		score += math.Min(f.ImpossibleTravelCount*0.20, 0.40)
	}

	switch ffr := f.FraudFlagRatio; {
	case ffr >= 0.9:
		score += 0.40
	case ffr >= 0.7:
		score += 0.30
	case ffr >= 0.5:
		score += 0.20
	case ffr >= 0.3:
		score += 0.10
	}

	return math.Min(score, 1.0)
}

func receiverLevel(score int) string {
	switch {
	case score <= 25:
		return ReceiverLevelLow
	case score <= 50:
		return ReceiverLevelGuarded
	case score <= 75:
		return ReceiverLevelSuspicious
	default:
		return ReceiverLevelHighRisk
	}
}
