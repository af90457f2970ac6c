package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/payshield/payshield/internal/cache"
	"github.com/payshield/payshield/internal/geo"
	"github.com/payshield/payshield/internal/history"
	"github.com/payshield/payshield/internal/identity"
	"github.com/payshield/payshield/internal/ledger"
	"github.com/payshield/payshield/internal/metrics"
	"github.com/payshield/payshield/internal/reputation"
)

// Cache TTLs for context lookups.
const (
	ProfileCacheTTL    = 5 * time.Minute
	ReputationCacheTTL = 10 * time.Minute
)

// UserContext is everything the layers need, pre-fetched in one pass.
// Layers never touch stores; they read from here.
type UserContext struct {
	Profile  identity.Profile
	Stats    history.SenderStats
	Receiver ReceiverSummary
	PairTxns []PairTxn
	LastTxn  *ledger.Transaction
	Cities   []geo.Event // dataset city trail, oldest first
}

// PairTxn is one successful past payment from sender to receiver,
// merged from the live ledger and the historical dataset.
type PairTxn struct {
	Amount float64
	At     time.Time
}

// ReceiverSummary is the pair-scoped view of the receiver.
type ReceiverSummary struct {
	Identifier        string
	IsNew             bool
	GoodHistory       bool
	RiskyHistory      bool
	TotalTransactions int
	FraudCount        int
	FraudRatio        float64
	ReputationScore   float64
	FlaggedByUser     bool
	Profile           history.ReceiverProfile
}

// Assembler pre-fetches user, ledger, reputation, and dataset context
// so the scoring layers run on structured data only.
type Assembler struct {
	users  identity.Store
	txns   ledger.Store
	rep    reputation.Store
	data   *history.Dataset
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time

	profileTTL    time.Duration
	reputationTTL time.Duration
}

func NewAssembler(
	users identity.Store,
	txns ledger.Store,
	rep reputation.Store,
	data *history.Dataset,
	c cache.Cache,
	logger *slog.Logger,
) *Assembler {
	return &Assembler{
		users:         users,
		txns:          txns,
		rep:           rep,
		data:          data,
		cache:         c,
		logger:        logger,
		now:           time.Now,
		profileTTL:    ProfileCacheTTL,
		reputationTTL: ReputationCacheTTL,
	}
}

// SetTTLs overrides the default cache TTLs. Non-positive values are
// ignored.
func (a *Assembler) SetTTLs(profile, reputation time.Duration) {
	if profile > 0 {
		a.profileTTL = profile
	}
	if reputation > 0 {
		a.reputationTTL = reputation
	}
}

// Assemble gathers the full evaluation context for one sender/receiver
// pair. The sender must exist; everything else degrades to empty.
func (a *Assembler) Assemble(ctx context.Context, senderID, receiverID string) (*UserContext, error) {
	receiverID = strings.ToLower(strings.TrimSpace(receiverID))
	now := a.now()

	profile, err := a.userProfile(ctx, senderID)
	if err != nil {
		return nil, err
	}

	ucx := &UserContext{Profile: *profile}
	ucx.Stats = a.senderStats(ctx, senderID, now)
	ucx.Cities = a.data.SenderCities(senderID)

	pairLedger, err := a.txns.ListByPair(ctx, senderID, receiverID)
	if err != nil {
		a.logger.Warn("pair history read failed", "sender", senderID, "receiver", receiverID, "error", err)
		pairLedger = nil
	}
	ucx.PairTxns = a.pairTransactions(senderID, receiverID, pairLedger)
	ucx.Receiver = a.receiverSummary(ctx, senderID, receiverID, pairLedger)

	if last, err := a.txns.LastBySender(ctx, senderID); err == nil {
		ucx.LastTxn = last
	} else if !errors.Is(err, ledger.ErrNotFound) {
		a.logger.Warn("last transaction lookup failed", "sender", senderID, "error", err)
	}

	return ucx, nil
}

func (a *Assembler) userProfile(ctx context.Context, senderID string) (*identity.Profile, error) {
	key := cache.KeyPrefixUserProfile + senderID
	var cached identity.Profile
	if cache.GetJSON(ctx, a.cache, key, &cached) {
		metrics.CacheLookupsTotal.WithLabelValues("user_profile", "hit").Inc()
		return &cached, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("user_profile", "miss").Inc()

	p, err := a.users.Get(ctx, senderID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, senderID)
		}
		return nil, fmt.Errorf("fetch sender profile: %w", err)
	}
	cache.SetJSON(ctx, a.cache, key, p, a.profileTTL)
	return p, nil
}

// senderStats merges live ledger windows with the historical dataset.
// Ledger data wins wherever it is present; the dataset only fills
// fields the young ledger has no rows for.
func (a *Assembler) senderStats(ctx context.Context, senderID string, now time.Time) history.SenderStats {
	live := a.ledgerStats(ctx, senderID, now)

	csv := a.data.SenderStats(senderID, now)
	if csv.DaysSinceLast == 999 && csv.TxnCount30d == 0 && csv.AvgAmountOverall == 0 {
		// Sender absent from the dataset entirely.
		return live
	}

	merged := live
	// Counts add up: a burst split across both sources is still a burst.
	merged.TxnCount5min += csv.TxnCount5min
	merged.TxnCount1h += csv.TxnCount1h
	merged.TxnCount24h += csv.TxnCount24h
	merged.TxnCount30d += csv.TxnCount30d
	merged.FailedTxnCount7d += csv.FailedTxnCount7d

	if merged.AvgAmount7d == 0 {
		merged.AvgAmount7d = csv.AvgAmount7d
	}
	if merged.AvgAmount30d == 0 {
		merged.AvgAmount30d = csv.AvgAmount30d
	}
	if merged.AvgAmountOverall == 0 {
		merged.AvgAmountOverall = csv.AvgAmountOverall
	}
	if merged.MaxAmount7d == 0 {
		merged.MaxAmount7d = csv.MaxAmount7d
	}
	if merged.MaxAmount30d == 0 {
		merged.MaxAmount30d = csv.MaxAmount30d
	}
	if merged.MaxAmountOverall == 0 {
		merged.MaxAmountOverall = csv.MaxAmountOverall
	}
	if live.TxnCount30d == 0 {
		merged.NightTxnRatio = csv.NightTxnRatio
	}
	if len(merged.FrequentHours) == 0 {
		merged.FrequentHours = csv.FrequentHours
	}
	if csv.DaysSinceLast < merged.DaysSinceLast {
		merged.DaysSinceLast = csv.DaysSinceLast
	}

	// Location signals only exist in the dataset.
	merged.LastCity = csv.LastCity
	merged.ImpossibleTravelFlag = csv.ImpossibleTravelFlag
	merged.DistanceFromLastCity = csv.DistanceFromLastCity
	return merged
}

func (a *Assembler) ledgerStats(ctx context.Context, senderID string, now time.Time) history.SenderStats {
	stats := history.SenderStats{DaysSinceLast: 999}

	txns, err := a.txns.ListBySender(ctx, senderID, now.Add(-30*24*time.Hour))
	if err != nil {
		a.logger.Warn("ledger window read failed", "sender", senderID, "error", err)
		return stats
	}
	if len(txns) == 0 {
		return stats
	}

	var sum, max, sum7, max7 float64
	var night, n7 int
	hourCounts := map[int]int{}
	for _, t := range txns {
		amt := t.Amount.InexactFloat64()
		age := now.Sub(t.CreatedAt)

		if t.Status == ledger.StatusFailed {
			if age <= 7*24*time.Hour {
				stats.FailedTxnCount7d++
			}
			continue
		}

		sum += amt
		if amt > max {
			max = amt
		}
		stats.TxnCount30d++
		if age <= 7*24*time.Hour {
			n7++
			sum7 += amt
			if amt > max7 {
				max7 = amt
			}
		}
		if age <= 24*time.Hour {
			stats.TxnCount24h++
		}
		if age <= time.Hour {
			stats.TxnCount1h++
		}
		if age <= 5*time.Minute {
			stats.TxnCount5min++
		}
		h := t.CreatedAt.Hour()
		hourCounts[h]++
		if h >= 22 || h <= 5 {
			night++
		}
	}
	if stats.TxnCount30d > 0 {
		stats.AvgAmount30d = sum / float64(stats.TxnCount30d)
		stats.AvgAmountOverall = stats.AvgAmount30d
		stats.MaxAmount30d = max
		stats.MaxAmountOverall = max
		stats.NightTxnRatio = float64(night) / float64(stats.TxnCount30d)
		stats.FrequentHours = history.TopHours(hourCounts, 3)
	}
	if n7 > 0 {
		stats.AvgAmount7d = sum7 / float64(n7)
		stats.MaxAmount7d = max7
	}

	last := txns[len(txns)-1].CreatedAt
	stats.DaysSinceLast = int(now.Sub(last).Hours() / 24)
	if stats.DaysSinceLast < 0 {
		stats.DaysSinceLast = 0
	}
	return stats
}

// pairTransactions merges successful sender->receiver payments from
// the ledger and the historical dataset, oldest first.
func (a *Assembler) pairTransactions(senderID, receiverID string, live []*ledger.Transaction) []PairTxn {
	var out []PairTxn

	for _, r := range a.data.PairHistory(senderID, receiverID) {
		if !successStatus(r.Status) {
			continue
		}
		out = append(out, PairTxn{Amount: r.Amount, At: r.Timestamp})
	}

	for _, t := range live {
		if !successStatus(t.Status) {
			continue
		}
		out = append(out, PairTxn{Amount: t.Amount.InexactFloat64(), At: t.CreatedAt})
	}
	return out
}

func successStatus(s string) bool {
	switch strings.ToUpper(s) {
	case "SUCCESS", ledger.StatusCompleted:
		return true
	}
	return false
}

func (a *Assembler) receiverSummary(ctx context.Context, senderID, receiverID string, pairLedger []*ledger.Transaction) ReceiverSummary {
	sum := ReceiverSummary{
		Identifier:      receiverID,
		IsNew:           true,
		ReputationScore: 0.5, // neutral for unknown receivers
	}

	key := cache.KeyPrefixReceiverReputation + receiverID
	var cached ReceiverSummary
	if cache.GetJSON(ctx, a.cache, key, &cached) {
		metrics.CacheLookupsTotal.WithLabelValues("receiver_reputation", "hit").Inc()
		sum = cached
	} else {
		metrics.CacheLookupsTotal.WithLabelValues("receiver_reputation", "miss").Inc()
		if rec, err := a.rep.Get(ctx, receiverID); err == nil {
			sum.TotalTransactions = rec.TotalReports
			sum.FraudCount = rec.FraudReports
			sum.FraudRatio = rec.FraudRatio()
			sum.ReputationScore = sum.FraudRatio
		} else if !errors.Is(err, reputation.ErrNotFound) {
			a.logger.Warn("reputation lookup failed", "receiver", receiverID, "error", err)
		}
		cache.SetJSON(ctx, a.cache, key, sum, a.reputationTTL)
	}

	sum.Profile = a.data.ReceiverProfile(receiverID)
	if sum.Profile.Exists {
		sum.IsNew = false
		if sum.TotalTransactions == 0 {
			sum.TotalTransactions = sum.Profile.TotalTxns
			sum.FraudCount = sum.Profile.FlaggedCount
			sum.FraudRatio = sum.Profile.FraudFlagRatio
			sum.ReputationScore = sum.Profile.FraudFlagRatio
		}
	}

	// Pair-scoped predicates over the sender's own record with this
	// receiver.
	if len(pairLedger) > 0 || len(a.data.PairHistory(senderID, receiverID)) > 0 {
		sum.IsNew = false
	}
	sum.GoodHistory, sum.RiskyHistory = pairPredicates(pairLedger)

	if flagged, err := a.rep.HasFlag(ctx, senderID, receiverID); err == nil {
		sum.FlaggedByUser = flagged
	}

	return sum
}

// pairPredicates classifies the sender's ledger history with one
// receiver. Good: at least two completed payments, none blocked, none
// flagged high risk, average completed-payment risk under 0.50. Risky:
// repeated failures, any block, any high-risk flag, or average
// completed-payment risk above 0.70.
func pairPredicates(txns []*ledger.Transaction) (good, risky bool) {
	if len(txns) == 0 {
		return false, false
	}

	var completed, failed, blocked, highRisk int
	var riskSum float64
	for _, t := range txns {
		switch t.Status {
		case ledger.StatusCompleted:
			completed++
			riskSum += t.RiskScore
		case ledger.StatusFailed:
			failed++
		case ledger.StatusBlocked:
			blocked++
		}
		switch t.RiskLevel {
		case LevelHigh, DecisionLevelVeryHigh:
			highRisk++
		}
	}
	var avgRisk float64
	if completed > 0 {
		avgRisk = riskSum / float64(completed)
	}

	good = completed >= 2 && blocked == 0 && highRisk == 0 && avgRisk < 0.50
	risky = failed >= 2 || blocked > 0 || highRisk > 0 || (completed > 0 && avgRisk > 0.70)
	return good, risky
}
