// Package risk implements the multi-layer payment risk pipeline.
//
// Three independent layers score every payment: relationship familiarity
// (uncertainty), amount deviation (impact), and receiver behavior
// (suspicion). A rules engine adds hard blocks and additive signals, and
// a pure aggregation engine combines everything into a final score and
// action. No single layer decides alone; risk emerges when independent
// signals agree.
//
// Layers consume only a pre-assembled UserContext. The aggregation and
// decision engines are closed arithmetic over layer outputs: no store
// access, no model calls.
package risk

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound  = errors.New("risk: sender not found")
	ErrInvalidAmount = errors.New("risk: amount must be positive")
)

// Final actions from the aggregation engine.
const (
	ActionAllow = "ALLOW"
	ActionWarn  = "WARN"
	ActionBlock = "BLOCK"
)

// Legacy decision-path actions, used by the tier-adjusted policy engine.
const (
	ActionWarning     = "WARNING"
	ActionOTPRequired = "OTP_REQUIRED"
)

// Final risk levels.
const (
	LevelLow      = "LOW"
	LevelModerate = "MODERATE"
	LevelHigh     = "HIGH"
)

// TransactionRequest carries one payment to evaluate.
type TransactionRequest struct {
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Lat        *float64        `json:"lat,omitempty"`
	Lon        *float64        `json:"lon,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
}

// LayerScore is one layer's contribution in the response breakdown.
type LayerScore struct {
	Score  int    `json:"score"`
	Weight int    `json:"weight"`
	Status string `json:"status"`
}

// RiskFactor is a human-readable explanation of one risk signal.
type RiskFactor struct {
	Factor   string `json:"factor"`
	Severity string `json:"severity"` // safe, low, medium, high, critical
	Detail   string `json:"detail"`
}

// Assessment is the full structured result of one evaluation.
type Assessment struct {
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`

	RiskScore      float64 `json:"riskScore"` // 0.0 - 1.0
	RiskLevel      string  `json:"riskLevel"`
	RiskPercentage int     `json:"riskPercentage"`

	Action      string `json:"action"`
	Message     string `json:"message"`
	CanProceed  bool   `json:"canProceed"`
	RequiresOTP bool   `json:"requiresOtp"`
	ShouldBlock bool   `json:"shouldBlock"`

	Flags []string `json:"flags,omitempty"`

	Breakdown struct {
		Behavior LayerScore `json:"behaviorAnalysis"`
		Amount   LayerScore `json:"amountAnalysis"`
		Receiver LayerScore `json:"receiverAnalysis"`
	} `json:"riskBreakdown"`

	RiskFactors     []RiskFactor `json:"riskFactors"`
	Recommendations []string     `json:"recommendations"`

	UserInfo struct {
		TrustScore  float64 `json:"trustScore"`
		Tier        string  `json:"tier"`
		TxnCount30d int     `json:"transactionCount30d"`
	} `json:"userInfo"`

	ReceiverInfo struct {
		Identifier        string  `json:"identifier"`
		IsNew             bool    `json:"isNew"`
		GoodHistory       bool    `json:"goodHistory"`
		RiskyHistory      bool    `json:"riskyHistory"`
		ReputationScore   float64 `json:"reputationScore"`
		TotalTransactions int     `json:"totalTransactions"`
	} `json:"receiverInfo"`
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
