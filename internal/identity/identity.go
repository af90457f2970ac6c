// Package identity manages user profiles and trust scores.
//
// Trust is a single canonical score in [0.0, 1.0]; the BRONZE / SILVER /
// GOLD tier is always derived from it, never stored separately, so the
// two can't drift apart.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means the user does not exist. Risk evaluation aborts on
// it: there is no baseline to score an unknown sender against.
var ErrNotFound = errors.New("identity: user not found")

// Tier buckets trust scores into friction levels.
type Tier string

const (
	TierBronze Tier = "BRONZE" // trust < 0.31: stricter friction
	TierSilver Tier = "SILVER" // trust < 0.71: standard
	TierGold   Tier = "GOLD"   // trust >= 0.71: reduced friction
)

// TierFor derives the tier from a canonical trust score.
func TierFor(trust float64) Tier {
	switch {
	case trust < 0.31:
		return TierBronze
	case trust < 0.71:
		return TierSilver
	default:
		return TierGold
	}
}

// Profile is a user identity record.
type Profile struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName,omitempty"`
	TrustScore   float64   `json:"trustScore"` // 0.0 - 1.0
	KnownDevices []string  `json:"knownDevices,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Tier returns the trust tier derived from the profile's score.
func (p *Profile) Tier() Tier {
	return TierFor(p.TrustScore)
}

// KnowsDevice reports whether deviceID is registered on the profile.
func (p *Profile) KnowsDevice(deviceID string) bool {
	for _, d := range p.KnownDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// Store persists user profiles.
type Store interface {
	Get(ctx context.Context, id string) (*Profile, error)
	Create(ctx context.Context, p *Profile) error
	// AdjustTrust shifts the trust score by delta, clamped to [0, 1].
	AdjustTrust(ctx context.Context, id string, delta float64) error
	AddDevice(ctx context.Context, id, deviceID string) error
}

func clampTrust(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
