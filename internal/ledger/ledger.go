// Package ledger is the append-only transaction record store.
//
// Every executed payment lands here with its final risk outcome, and
// the risk pipeline reads windowed slices back out to compute sender
// statistics and sender->receiver pair history. A separate risk-event
// table keeps the per-evaluation audit trail.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("ledger: transaction not found")

// Transaction statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusBlocked   = "BLOCKED"
)

// Transaction is one payment record with its risk outcome.
type Transaction struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Status     string          `json:"status"`

	RiskScore float64 `json:"riskScore"` // 0.0 - 1.0
	RiskLevel string  `json:"riskLevel,omitempty"`
	Action    string  `json:"action,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// RiskEvent is one audit row per committed evaluation.
type RiskEvent struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	TransactionID string    `json:"transactionId,omitempty"`
	FinalScore    float64   `json:"finalScore"` // 0.0 - 1.0
	Action        string    `json:"action"`
	UserScore     int       `json:"userScore"`
	AmountScore   int       `json:"amountScore"`
	ReceiverScore int       `json:"receiverScore"`
	Flags         []string  `json:"flags,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PairRecord is the durable aggregate for one sender->receiver pair.
// Its existence alone makes the receiver "not new" for that sender.
type PairRecord struct {
	SenderID     string    `json:"senderId"`
	ReceiverID   string    `json:"receiverId"`
	PaymentCount int       `json:"paymentCount"`
	LastPaidAt   time.Time `json:"lastPaidAt"`
}

// Store persists transactions, risk events, and pair aggregates.
type Store interface {
	Insert(ctx context.Context, t *Transaction) error
	SetStatus(ctx context.Context, id, status string) error
	ListBySender(ctx context.Context, senderID string, since time.Time) ([]*Transaction, error)
	ListByPair(ctx context.Context, senderID, receiverID string) ([]*Transaction, error)
	LastBySender(ctx context.Context, senderID string) (*Transaction, error)

	RecordEvent(ctx context.Context, ev *RiskEvent) error

	GetPair(ctx context.Context, senderID, receiverID string) (*PairRecord, error)
	BumpPair(ctx context.Context, senderID, receiverID string, at time.Time) error
}
