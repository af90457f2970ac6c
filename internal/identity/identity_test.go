package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierBoundaries(t *testing.T) {
	assert.Equal(t, TierBronze, TierFor(0.0))
	assert.Equal(t, TierBronze, TierFor(0.30))
	assert.Equal(t, TierSilver, TierFor(0.31))
	assert.Equal(t, TierSilver, TierFor(0.70))
	assert.Equal(t, TierGold, TierFor(0.71))
	assert.Equal(t, TierGold, TierFor(1.0))
}

func TestAdjustTrustClamps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Profile{ID: "u1", TrustScore: 0.95, CreatedAt: time.Now()}))

	require.NoError(t, s.AdjustTrust(ctx, "u1", 0.10))
	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.TrustScore)

	require.NoError(t, s.AdjustTrust(ctx, "u1", -2.0))
	p, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.TrustScore)

	assert.ErrorIs(t, s.AdjustTrust(ctx, "missing", 0.01), ErrNotFound)
}

func TestAddDeviceDedupes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Profile{ID: "u1", TrustScore: 0.5, CreatedAt: time.Now()}))
	require.NoError(t, s.AddDevice(ctx, "u1", "dev-1"))
	require.NoError(t, s.AddDevice(ctx, "u1", "dev-1"))
	require.NoError(t, s.AddDevice(ctx, "u1", "dev-2"))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2"}, p.KnownDevices)
	assert.True(t, p.KnowsDevice("dev-1"))
	assert.False(t, p.KnowsDevice("dev-3"))
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Profile{ID: "u1", TrustScore: 0.5, KnownDevices: []string{"dev-1"}, CreatedAt: time.Now()}))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	p.KnownDevices[0] = "mutated"
	p.TrustScore = 0.99

	again, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", again.KnownDevices[0])
	assert.Equal(t, 0.5, again.TrustScore)
}
