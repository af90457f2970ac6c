package risk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payshield/payshield/internal/cache"
	"github.com/payshield/payshield/internal/history"
	"github.com/payshield/payshield/internal/identity"
	"github.com/payshield/payshield/internal/ledger"
	"github.com/payshield/payshield/internal/reputation"
)

func pairTxn(status, level string, score float64) *ledger.Transaction {
	return &ledger.Transaction{
		Status:    status,
		RiskLevel: level,
		RiskScore: score,
	}
}

func TestPairPredicates(t *testing.T) {
	tests := []struct {
		name      string
		txns      []*ledger.Transaction
		wantGood  bool
		wantRisky bool
	}{
		{name: "no history", txns: nil},
		{
			name: "two clean completed payments",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelLow, 0.10),
				pairTxn(ledger.StatusCompleted, LevelLow, 0.20),
			},
			wantGood: true,
		},
		{
			name: "single completed payment is not yet good",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelLow, 0.10),
			},
		},
		{
			name: "any blocked payment is risky",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelLow, 0.10),
				pairTxn(ledger.StatusCompleted, LevelLow, 0.15),
				pairTxn(ledger.StatusBlocked, LevelHigh, 0.90),
			},
			wantRisky: true,
		},
		{
			name: "repeated failures are risky",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusFailed, LevelLow, 0.20),
				pairTxn(ledger.StatusFailed, LevelLow, 0.25),
			},
			wantRisky: true,
		},
		{
			name: "high-risk flag poisons an otherwise good record",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelLow, 0.10),
				pairTxn(ledger.StatusCompleted, LevelHigh, 0.40),
			},
			wantRisky: true,
		},
		{
			name: "legacy very-high level counts as high risk",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelLow, 0.10),
				pairTxn(ledger.StatusCompleted, DecisionLevelVeryHigh, 0.45),
			},
			wantRisky: true,
		},
		{
			name: "high average risk is risky",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelModerate, 0.80),
			},
			wantRisky: true,
		},
		{
			name: "middling average risk is neither",
			txns: []*ledger.Transaction{
				pairTxn(ledger.StatusCompleted, LevelModerate, 0.55),
				pairTxn(ledger.StatusCompleted, LevelModerate, 0.55),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good, risky := pairPredicates(tt.txns)
			assert.Equal(t, tt.wantGood, good, "good")
			assert.Equal(t, tt.wantRisky, risky, "risky")
		})
	}
}

func TestAssembleBlockedPairIsRisky(t *testing.T) {
	f := newEngineFixture(t)
	sender(t, f, "u1", 0.5)
	ctx := context.Background()

	require.NoError(t, f.txns.Insert(ctx, &ledger.Transaction{
		ID:         "t1",
		SenderID:   "u1",
		ReceiverID: "r1",
		Amount:     decimal.NewFromInt(5000),
		Status:     ledger.StatusBlocked,
		RiskScore:  0.90,
		RiskLevel:  LevelHigh,
		CreatedAt:  time.Now().Add(-time.Hour),
	}))

	ucx, err := f.engine.assembler.Assemble(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ucx.Receiver.RiskyHistory)
	assert.False(t, ucx.Receiver.GoodHistory)
	assert.False(t, ucx.Receiver.IsNew)
}

func TestAssembleCompletedPairIsGood(t *testing.T) {
	f := newEngineFixture(t)
	sender(t, f, "u1", 0.5)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.txns.Insert(ctx, &ledger.Transaction{
			ID:         fmt.Sprintf("t%d", i),
			SenderID:   "u1",
			ReceiverID: "r1",
			Amount:     decimal.NewFromInt(500),
			Status:     ledger.StatusCompleted,
			RiskScore:  0.10,
			RiskLevel:  LevelLow,
			CreatedAt:  time.Now().Add(-time.Duration(i+1) * 24 * time.Hour),
		}))
	}

	ucx, err := f.engine.assembler.Assemble(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ucx.Receiver.GoodHistory)
	assert.False(t, ucx.Receiver.RiskyHistory)
}

func TestEvaluateSurfacesPairHistory(t *testing.T) {
	f := newEngineFixture(t)
	sender(t, f, "u1", 0.5)
	ctx := context.Background()

	require.NoError(t, f.txns.Insert(ctx, &ledger.Transaction{
		ID:         "t1",
		SenderID:   "u1",
		ReceiverID: "r1",
		Amount:     decimal.NewFromInt(5000),
		Status:     ledger.StatusBlocked,
		RiskScore:  0.90,
		RiskLevel:  LevelHigh,
		CreatedAt:  time.Now().Add(-time.Hour),
	}))

	a, err := f.engine.Evaluate(ctx, evalReq("u1", "r1", 500), false)
	require.NoError(t, err)
	assert.True(t, a.ReceiverInfo.RiskyHistory)

	found := false
	for _, rf := range a.RiskFactors {
		if rf.Factor == "Troubled history with this receiver" {
			found = true
		}
	}
	assert.True(t, found, "expected a troubled-history risk factor")
}

// ----- Stats merging -----

func writeDataset(t *testing.T, senderCSV string) *history.Dataset {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sender.csv")
	require.NoError(t, os.WriteFile(path, []byte(senderCSV), 0o644))
	return history.New(path, "", testLogger)
}

func TestSenderStatsLedgerTakesPrecedence(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	csv := "sender_id,receiver_id,amount,timestamp,status,ip_city\n" +
		"u1,old@upi,100,2026-05-28 10:00:00,COMPLETED,Chennai\n" +
		"u1,old@upi,100,2026-05-29 10:00:00,COMPLETED,Chennai\n"
	data := writeDataset(t, csv)

	users := identity.NewMemoryStore()
	txns := ledger.NewMemoryStore()
	rep := reputation.NewMemoryStore()
	a := NewAssembler(users, txns, rep, data, cache.NewMemory(), testLogger)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, txns.Insert(ctx, &ledger.Transaction{
			ID:         fmt.Sprintf("t%d", i),
			SenderID:   "u1",
			ReceiverID: "r1",
			Amount:     decimal.NewFromInt(2000),
			Status:     ledger.StatusCompleted,
			CreatedAt:  now.Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	stats := a.senderStats(ctx, "u1", now)

	// Live ledger values win over the stale dataset baseline.
	assert.Equal(t, 2000.0, stats.AvgAmount30d)
	assert.Equal(t, 2000.0, stats.MaxAmount30d)
	// Counts accumulate across both sources.
	assert.Equal(t, 4, stats.TxnCount30d)
	assert.Equal(t, 0, stats.DaysSinceLast)
}

func TestSenderStatsDatasetFillsGaps(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	csv := "sender_id,receiver_id,amount,timestamp,status,ip_city\n" +
		"u1,old@upi,300,2026-05-28 10:00:00,COMPLETED,Chennai\n" +
		"u1,old@upi,500,2026-05-29 10:00:00,COMPLETED,Chennai\n"
	data := writeDataset(t, csv)

	a := NewAssembler(identity.NewMemoryStore(), ledger.NewMemoryStore(),
		reputation.NewMemoryStore(), data, cache.NewMemory(), testLogger)

	stats := a.senderStats(context.Background(), "u1", now)

	// No ledger rows: the dataset supplies the whole baseline.
	assert.Equal(t, 400.0, stats.AvgAmount30d)
	assert.Equal(t, 500.0, stats.MaxAmountOverall)
	assert.Equal(t, 2, stats.TxnCount30d)
	assert.Equal(t, 3, stats.DaysSinceLast)
}
