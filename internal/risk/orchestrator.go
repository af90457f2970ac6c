package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/payshield/payshield/internal/cache"
	"github.com/payshield/payshield/internal/classifier"
	"github.com/payshield/payshield/internal/idgen"
	"github.com/payshield/payshield/internal/identity"
	"github.com/payshield/payshield/internal/ledger"
	"github.com/payshield/payshield/internal/metrics"
	"github.com/payshield/payshield/internal/reputation"
	"github.com/payshield/payshield/internal/traces"
)

// Trust-score feedback per commit outcome.
const (
	trustDeltaAllowed       = 0.01
	trustDeltaHighRisk      = -0.02
	trustDeltaFraudReported = -0.10
)

// Layer weights shown in the response breakdown.
const (
	breakdownWeightBehavior = 25
	breakdownWeightAmount   = 15
	breakdownWeightReceiver = 60
)

// Engine coordinates the full pipeline: context assembly, rules, the
// three scoring layers, aggregation, and optional persistence.
type Engine struct {
	assembler *Assembler
	users     identity.Store
	txns      ledger.Store
	rep       reputation.Store
	model     classifier.Classifier
	cache     cache.Cache
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine builds the pipeline. model may be nil; Layer 3 then runs on
// the heuristic schedule.
func NewEngine(
	assembler *Assembler,
	users identity.Store,
	txns ledger.Store,
	rep reputation.Store,
	model classifier.Classifier,
	c cache.Cache,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		assembler: assembler,
		users:     users,
		txns:      txns,
		rep:       rep,
		model:     model,
		cache:     c,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate runs the pipeline for one payment. With commit=false the
// call is strictly read-only (preview). With commit=true the payment,
// its risk event, and the trust/pair updates are persisted.
func (e *Engine) Evaluate(ctx context.Context, req *TransactionRequest, commit bool) (*Assessment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	req.ReceiverID = strings.ToLower(strings.TrimSpace(req.ReceiverID))
	now := req.Timestamp
	if now.IsZero() {
		now = e.now()
	}

	txnID := idgen.WithPrefix("txn_")
	log := e.logger.With("txn", txnID, "sender", req.SenderID, "receiver", req.ReceiverID)

	ctx, span := traces.StartSpan(ctx, "risk.Evaluate",
		traces.Sender(req.SenderID),
		traces.Receiver(req.ReceiverID),
		traces.Amount(req.Amount.String()),
		traces.TransactionID(txnID),
	)
	defer span.End()

	actx, aspan := traces.StartSpan(ctx, "risk.Assemble")
	ucx, err := e.assembler.Assemble(actx, req.SenderID, req.ReceiverID)
	aspan.End()
	if err != nil {
		return nil, err
	}

	rules := EvaluateRules(req, ucx, now)
	if rules.HardBlock {
		log.Warn("hard block", "reason", rules.BlockReason)
		metrics.HardBlocksTotal.Inc()
		a := e.blockedAssessment(txnID, now, req, ucx, rules.BlockReason)
		if commit {
			if err := e.persist(ctx, txnID, req, ucx, a, now); err != nil {
				return nil, err
			}
		}
		span.SetAttributes(traces.Action(a.Action))
		metrics.EvaluationsTotal.WithLabelValues(a.Action).Inc()
		return a, nil
	}

	amount := req.Amount.InexactFloat64()

	// The three layers are independent by design; run them together.
	var (
		l1 RelationshipResult
		l2 AmountResult
		l3 ReceiverResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l1 = AnalyzeRelationship(ucx.PairTxns, now)
		return nil
	})
	g.Go(func() error {
		l2 = AnalyzeAmount(amount, ucx.Stats)
		return nil
	})
	g.Go(func() error {
		l3 = AnalyzeReceiver(gctx, e.model, BuildFeatures(amount, now, ucx), e.logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	final := ComputeFinalRisk(l1.Score, l2.Score, l3.Score)
	log.Info("layers scored",
		"relationship", l1.Score, "amount", l2.Score, "receiver", l3.Score,
		"final", final.Score, "action", final.Action)

	a := e.buildAssessment(txnID, now, req, ucx, l1, l2, l3, final, rules)

	if commit {
		if err := e.persist(ctx, txnID, req, ucx, a, now); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(traces.Action(a.Action))
	metrics.EvaluationsTotal.WithLabelValues(a.Action).Inc()
	return a, nil
}

func (e *Engine) buildAssessment(
	txnID string,
	now time.Time,
	req *TransactionRequest,
	ucx *UserContext,
	l1 RelationshipResult,
	l2 AmountResult,
	l3 ReceiverResult,
	final FinalResult,
	rules RuleResult,
) *Assessment {
	a := &Assessment{
		TransactionID:  txnID,
		Timestamp:      now,
		RiskScore:      round2(float64(final.Score) / 100),
		RiskLevel:      final.Level,
		RiskPercentage: final.Score,
		Action:         final.Action,
		Flags:          rules.Flags,
	}

	// A personally flagged receiver never evaluates as plain safe.
	if ucx.Receiver.FlaggedByUser && a.Action == ActionAllow {
		a.Action = ActionWarn
		a.RiskLevel = LevelModerate
		a.Flags = append(a.Flags, FlagReceiverFlaggedByUser)
	}

	// The tier policy supplies the step-up verification overlay.
	d := Decide(a.RiskScore, a.Flags, ucx.Profile.Tier())
	a.RequiresOTP = d.RequiresOTP && a.Action != ActionBlock

	a.Message = finalMessage(a.Action)
	a.CanProceed = a.Action != ActionBlock
	a.ShouldBlock = l3.Score >= 75 && l2.Score >= 75

	a.Breakdown.Behavior = LayerScore{Score: l1.Score, Weight: breakdownWeightBehavior, Status: l1.Familiarity}
	a.Breakdown.Amount = LayerScore{Score: l2.Score, Weight: breakdownWeightAmount, Status: l2.Level}
	a.Breakdown.Receiver = LayerScore{Score: l3.Score, Weight: breakdownWeightReceiver, Status: l3.Level}

	a.RiskFactors = deriveRiskFactors(req, ucx, l1, l2, l3, now)
	if ucx.Receiver.FlaggedByUser {
		a.RiskFactors = append([]RiskFactor{{
			Factor:   "You previously flagged this receiver",
			Severity: "critical",
			Detail:   "This receiver is on your personal watch list. Proceed only if you are certain.",
		}}, a.RiskFactors...)
	}
	a.Recommendations = deriveRecommendations(a.Action, l1, l2)

	a.UserInfo.TrustScore = ucx.Profile.TrustScore
	a.UserInfo.Tier = string(ucx.Profile.Tier())
	a.UserInfo.TxnCount30d = ucx.Stats.TxnCount30d

	a.ReceiverInfo.Identifier = ucx.Receiver.Identifier
	a.ReceiverInfo.IsNew = ucx.Receiver.IsNew
	a.ReceiverInfo.GoodHistory = ucx.Receiver.GoodHistory
	a.ReceiverInfo.RiskyHistory = ucx.Receiver.RiskyHistory
	a.ReceiverInfo.ReputationScore = ucx.Receiver.ReputationScore
	a.ReceiverInfo.TotalTransactions = ucx.Receiver.TotalTransactions

	return a
}

// blockedAssessment is the short-circuit result for blacklist hits.
// Layers never run; the score pins to 100.
func (e *Engine) blockedAssessment(txnID string, now time.Time, req *TransactionRequest, ucx *UserContext, reason string) *Assessment {
	a := &Assessment{
		TransactionID:  txnID,
		Timestamp:      now,
		RiskScore:      1.0,
		RiskLevel:      LevelHigh,
		RiskPercentage: 100,
		Action:         ActionBlock,
		Message:        finalMessage(ActionBlock),
		ShouldBlock:    true,
		Flags:          []string{"BLACKLISTED_RECEIVER"},
		RiskFactors: []RiskFactor{{
			Factor:   "Receiver is blacklisted",
			Severity: "critical",
			Detail:   "Blocked before scoring: " + reason + ".",
		}},
		Recommendations: []string{
			"This transaction has been blocked for your safety.",
			"Contact support if you believe this is an error.",
		},
	}
	a.UserInfo.TrustScore = ucx.Profile.TrustScore
	a.UserInfo.Tier = string(ucx.Profile.Tier())
	a.UserInfo.TxnCount30d = ucx.Stats.TxnCount30d
	a.ReceiverInfo.Identifier = ucx.Receiver.Identifier
	a.ReceiverInfo.IsNew = ucx.Receiver.IsNew
	a.ReceiverInfo.GoodHistory = ucx.Receiver.GoodHistory
	a.ReceiverInfo.RiskyHistory = ucx.Receiver.RiskyHistory
	a.ReceiverInfo.ReputationScore = ucx.Receiver.ReputationScore
	a.ReceiverInfo.TotalTransactions = ucx.Receiver.TotalTransactions
	return a
}

// persist writes the transaction, the audit event, the pair aggregate,
// and the trust feedback for a committed evaluation.
func (e *Engine) persist(ctx context.Context, txnID string, req *TransactionRequest, ucx *UserContext, a *Assessment, now time.Time) error {
	status := ledger.StatusPending
	if a.Action == ActionBlock {
		status = ledger.StatusBlocked
	}
	t := &ledger.Transaction{
		ID:         txnID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Note:       req.Note,
		DeviceID:   req.DeviceID,
		Status:     status,
		RiskScore:  a.RiskScore,
		RiskLevel:  a.RiskLevel,
		Action:     a.Action,
		Lat:        req.Lat,
		Lon:        req.Lon,
		CreatedAt:  now,
	}
	if err := e.txns.Insert(ctx, t); err != nil {
		return fmt.Errorf("persist transaction: %w", err)
	}

	ev := &ledger.RiskEvent{
		ID:            idgen.WithPrefix("risk_"),
		SenderID:      req.SenderID,
		TransactionID: txnID,
		FinalScore:    a.RiskScore,
		Action:        a.Action,
		UserScore:     a.Breakdown.Behavior.Score,
		AmountScore:   a.Breakdown.Amount.Score,
		ReceiverScore: a.Breakdown.Receiver.Score,
		Flags:         a.Flags,
		CreatedAt:     now,
	}
	if err := e.txns.RecordEvent(ctx, ev); err != nil {
		e.logger.Error("risk event write failed", "txn", txnID, "error", err)
	}

	if a.Action != ActionBlock {
		if err := e.txns.BumpPair(ctx, req.SenderID, req.ReceiverID, now); err != nil {
			e.logger.Error("pair history update failed", "txn", txnID, "error", err)
		}
	}

	delta := trustDeltaAllowed
	if a.Action == ActionBlock {
		delta = trustDeltaHighRisk
	}
	if err := e.users.AdjustTrust(ctx, req.SenderID, delta); err != nil {
		e.logger.Error("trust adjustment failed", "sender", req.SenderID, "error", err)
	} else {
		e.cache.Delete(ctx, cache.KeyPrefixUserProfile+req.SenderID)
	}

	if req.DeviceID != "" && !ucx.Profile.KnowsDevice(req.DeviceID) {
		if err := e.users.AddDevice(ctx, req.SenderID, req.DeviceID); err != nil {
			e.logger.Warn("device registration failed", "sender", req.SenderID, "error", err)
		}
	}

	return nil
}

// ReportReceiver records a fraud report against a receiver and drops
// the cached reputation. When the report is confirmed fraud and the
// receiver is a platform user, their trust score takes the penalty.
func (e *Engine) ReportReceiver(ctx context.Context, receiverID string, fraud bool) (*reputation.Receiver, error) {
	receiverID = strings.ToLower(strings.TrimSpace(receiverID))
	rec, err := e.rep.Report(ctx, receiverID, fraud, e.now())
	if err != nil {
		return nil, fmt.Errorf("report receiver: %w", err)
	}
	e.cache.Delete(ctx, cache.KeyPrefixReceiverReputation+receiverID)

	if fraud {
		err := e.users.AdjustTrust(ctx, receiverID, trustDeltaFraudReported)
		switch {
		case err == nil:
			e.cache.Delete(ctx, cache.KeyPrefixUserProfile+receiverID)
		case !errors.Is(err, identity.ErrNotFound):
			e.logger.Warn("trust adjustment failed", "receiver", receiverID, "error", err)
		}
	}
	return rec, nil
}

func finalMessage(action string) string {
	switch action {
	case ActionAllow:
		return "Transaction looks safe. You may proceed."
	case ActionWarn:
		return "Moderate risk detected. Please verify before proceeding."
	case ActionBlock:
		return "Transaction blocked due to high risk signals."
	}
	return "Transaction under review."
}
