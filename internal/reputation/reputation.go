// Package reputation tracks receiver standing across the network.
//
// Every receiver accumulates report counters: total reports and how
// many were confirmed fraudulent. The fraud ratio feeds the receiver
// risk layer and the blacklist rule. Individual senders can also flag
// receivers for themselves, which escalates future payments to that
// receiver without affecting anyone else's view.
package reputation

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("reputation: receiver not found")

// Blacklist thresholds. A receiver with a meaningful report volume and
// an overwhelming fraud record is hard-blocked network-wide.
const (
	blacklistMinReports   = 10
	blacklistFraudRatio   = 0.70
	blacklistMinFraudHits = 7
)

// Receiver is the aggregate reputation record for one receiver.
type Receiver struct {
	ID           string    `json:"id"`
	TotalReports int       `json:"totalReports"`
	FraudReports int       `json:"fraudReports"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FraudRatio returns the confirmed-fraud share of all reports.
// Zero reports means zero ratio, not NaN.
func (r *Receiver) FraudRatio() float64 {
	if r.TotalReports == 0 {
		return 0
	}
	return float64(r.FraudReports) / float64(r.TotalReports)
}

// Blacklisted reports whether this receiver crossed the hard-block bar.
func (r *Receiver) Blacklisted() bool {
	if r.TotalReports < blacklistMinReports {
		return false
	}
	return r.FraudRatio() > blacklistFraudRatio || r.FraudReports >= blacklistMinFraudHits
}

// Flag is one sender's personal mark against a receiver.
type Flag struct {
	UserID     string    `json:"userId"`
	ReceiverID string    `json:"receiverId"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists receiver reputation and per-user flags.
type Store interface {
	// Get returns the receiver record, or ErrNotFound if never reported.
	Get(ctx context.Context, receiverID string) (*Receiver, error)
	// Report increments the counters. fraud marks the report confirmed.
	Report(ctx context.Context, receiverID string, fraud bool, at time.Time) (*Receiver, error)

	AddFlag(ctx context.Context, f *Flag) error
	RemoveFlag(ctx context.Context, userID, receiverID string) error
	HasFlag(ctx context.Context, userID, receiverID string) (bool, error)
	ListFlags(ctx context.Context, userID string) ([]*Flag, error)
}
