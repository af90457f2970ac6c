package risk

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/payshield/payshield/internal/identity"
	"github.com/payshield/payshield/internal/ledger"
	"github.com/payshield/payshield/internal/logging"
	"github.com/payshield/payshield/internal/metrics"
	"github.com/payshield/payshield/internal/pagination"
	"github.com/payshield/payshield/internal/reputation"
	"github.com/payshield/payshield/internal/validation"
)

// Handler provides HTTP handlers for the risk API
type Handler struct {
	engine *Engine
	users  identity.Store
	txns   ledger.Store
	rep    reputation.Store
}

// NewHandler creates a new risk handler
func NewHandler(engine *Engine, users identity.Store, txns ledger.Store, rep reputation.Store) *Handler {
	return &Handler{engine: engine, users: users, txns: txns, rep: rep}
}

// RegisterRoutes sets up the risk routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/evaluate", h.EvaluatePayment)
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUser)
	r.GET("/users/:id/history", h.GetHistory)
	r.POST("/receivers/:id/flag", h.FlagReceiver)
	r.DELETE("/receivers/:id/flag", h.UnflagReceiver)
	r.POST("/receivers/:id/report", h.ReportReceiver)
	r.GET("/receivers/:id/reputation", h.GetReputation)
}

// -----------------------------------------------------------------------------
// Payment Evaluation
// -----------------------------------------------------------------------------

// EvaluatePaymentRequest is the payload for a payment risk check
type EvaluatePaymentRequest struct {
	SenderID   string   `json:"senderId" binding:"required"`
	ReceiverID string   `json:"receiverId" binding:"required"`
	Amount     string   `json:"amount" binding:"required"`
	Note       string   `json:"note,omitempty"`
	DeviceID   string   `json:"deviceId,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

// EvaluatePayment handles POST /payments/evaluate
// With ?mode=commit the payment and its risk event are persisted;
// the default mode=preview is strictly read-only.
func (h *Handler) EvaluatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req EvaluatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("senderId", req.SenderID),
		validation.ValidUserID("receiverId", req.ReceiverID),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidDeviceID("deviceId", req.DeviceID),
		validation.MaxLength("note", req.Note, validation.MaxNoteLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a decimal number",
		})
		return
	}

	mode := c.DefaultQuery("mode", "preview")
	if mode != "preview" && mode != "commit" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_mode",
			"message": "mode must be preview or commit",
		})
		return
	}

	assessment, err := h.engine.Evaluate(ctx, &TransactionRequest{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     amount,
		Note:       validation.SanitizeString(req.Note, validation.MaxNoteLength),
		DeviceID:   req.DeviceID,
		Lat:        req.Lat,
		Lon:        req.Lon,
	}, mode == "commit")
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "sender_not_found",
				"message": "Sender is not registered",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be greater than zero",
			})
		default:
			logger.Error("payment evaluation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to evaluate payment",
			})
		}
		return
	}

	logger.Info("payment evaluated",
		"transaction_id", assessment.TransactionID,
		"sender", req.SenderID,
		"action", assessment.Action,
		"score", assessment.RiskPercentage,
		"mode", mode,
	)

	c.JSON(http.StatusOK, assessment)
}

// -----------------------------------------------------------------------------
// User Handlers
// -----------------------------------------------------------------------------

// CreateUserRequest is the payload for registering a user profile
type CreateUserRequest struct {
	ID         string  `json:"id" binding:"required"`
	FullName   string  `json:"fullName,omitempty"`
	TrustScore float64 `json:"trustScore,omitempty"`
	DeviceID   string  `json:"deviceId,omitempty"`
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidUserID(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "id must be a valid user identifier",
		})
		return
	}
	if req.TrustScore < 0 || req.TrustScore > 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_trust_score",
			"message": "trustScore must be between 0 and 1",
		})
		return
	}

	if _, err := h.users.Get(ctx, req.ID); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "user_exists",
			"message": "A user with this id is already registered",
		})
		return
	} else if !errors.Is(err, identity.ErrNotFound) {
		logger.Error("failed to check user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register user",
		})
		return
	}

	trust := req.TrustScore
	if trust == 0 {
		trust = 0.5 // neutral starting trust
	}

	profile := &identity.Profile{
		ID:         req.ID,
		FullName:   validation.SanitizeString(req.FullName, 100),
		TrustScore: trust,
	}
	if req.DeviceID != "" {
		profile.KnownDevices = []string{req.DeviceID}
	}

	if err := h.users.Create(ctx, profile); err != nil {
		logger.Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register user",
		})
		return
	}

	logger.Info("user registered", "user_id", profile.ID, "tier", profile.Tier())
	c.JSON(http.StatusCreated, profile)
}

// GetUser handles GET /users/:id
func (h *Handler) GetUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	profile, err := h.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         profile.ID,
		"fullName":   profile.FullName,
		"trustScore": profile.TrustScore,
		"tier":       profile.Tier(),
		"createdAt":  profile.CreatedAt,
	})
}

// GetHistory handles GET /users/:id/history
// Returns the user's outgoing transactions within the requested window
// (?days=N, default 30, max 365), newest first, cursor-paginated via
// ?limit and ?cursor.
func (h *Handler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	days := 30
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_days",
				"message": "days must be between 1 and 365",
			})
			return
		}
		days = n
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 200",
			})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	if _, err := h.users.Get(ctx, id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get user",
		})
		return
	}

	since := time.Now().AddDate(0, 0, -days)
	txns, err := h.txns.ListBySender(ctx, id, since)
	if err != nil {
		logging.L(ctx).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}

	// Newest first; drop rows at or past the cursor position
	slices.Reverse(txns)
	if cursor != nil {
		for len(txns) > 0 && !txns[0].CreatedAt.Before(cursor.CreatedAt) {
			txns = txns[1:]
		}
	}
	if len(txns) > limit+1 {
		txns = txns[:limit+1]
	}
	page, next, hasMore := pagination.ComputePage(txns, limit, func(t *ledger.Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"userId":       id,
		"days":         days,
		"count":        len(page),
		"transactions": page,
		"nextCursor":   next,
		"hasMore":      hasMore,
	})
}

// -----------------------------------------------------------------------------
// Receiver Handlers
// -----------------------------------------------------------------------------

// FlagReceiverRequest is the payload for a personal receiver flag
type FlagReceiverRequest struct {
	UserID string `json:"userId" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// FlagReceiver handles POST /receivers/:id/flag
// Flags are per-user and idempotent: flagging the same receiver twice
// is a no-op.
func (h *Handler) FlagReceiver(c *gin.Context) {
	ctx := c.Request.Context()
	receiverID := c.Param("id")

	var req FlagReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "userId must be a valid user identifier",
		})
		return
	}

	flag := &reputation.Flag{
		UserID:     req.UserID,
		ReceiverID: receiverID,
		Reason:     validation.SanitizeString(req.Reason, 200),
	}
	if err := h.rep.AddFlag(ctx, flag); err != nil {
		logging.L(ctx).Error("failed to add flag", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to flag receiver",
		})
		return
	}

	logging.L(ctx).Info("receiver flagged", "user_id", req.UserID, "receiver_id", receiverID)
	c.JSON(http.StatusOK, gin.H{
		"userId":     req.UserID,
		"receiverId": receiverID,
		"flagged":    true,
	})
}

// UnflagReceiver handles DELETE /receivers/:id/flag
func (h *Handler) UnflagReceiver(c *gin.Context) {
	ctx := c.Request.Context()
	receiverID := c.Param("id")

	userID := c.Query("userId")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "userId query parameter must be a valid user identifier",
		})
		return
	}

	if err := h.rep.RemoveFlag(ctx, userID, receiverID); err != nil {
		logging.L(ctx).Error("failed to remove flag", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to unflag receiver",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"receiverId": receiverID,
		"flagged":    false,
	})
}

// ReportReceiverRequest is the payload for a fraud report
type ReportReceiverRequest struct {
	Fraud bool `json:"fraud"`
}

// ReportReceiver handles POST /receivers/:id/report
// A fraud=true report increments the receiver's fraud counters and can
// push them over the blacklist threshold; fraud=false records a
// confirmed-good interaction.
func (h *Handler) ReportReceiver(c *gin.Context) {
	ctx := c.Request.Context()
	receiverID := c.Param("id")

	var req ReportReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	rec, err := h.engine.ReportReceiver(ctx, receiverID, req.Fraud)
	if err != nil {
		logging.L(ctx).Error("failed to report receiver", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to report receiver",
		})
		return
	}

	kind := "good"
	if req.Fraud {
		kind = "fraud"
	}
	metrics.ReceiverReportsTotal.WithLabelValues(kind).Inc()

	logging.L(ctx).Info("receiver reported",
		"receiver_id", receiverID,
		"fraud", req.Fraud,
		"total_reports", rec.TotalReports,
	)

	c.JSON(http.StatusOK, gin.H{
		"receiverId":   rec.ID,
		"totalReports": rec.TotalReports,
		"fraudReports": rec.FraudReports,
		"fraudRatio":   rec.FraudRatio(),
		"blacklisted":  rec.Blacklisted(),
	})
}

// GetReputation handles GET /receivers/:id/reputation
func (h *Handler) GetReputation(c *gin.Context) {
	ctx := c.Request.Context()
	receiverID := c.Param("id")

	rec, err := h.rep.Get(ctx, receiverID)
	if err != nil {
		if errors.Is(err, reputation.ErrNotFound) {
			// Unknown receivers are neutral, not an error
			c.JSON(http.StatusOK, gin.H{
				"receiverId":   receiverID,
				"totalReports": 0,
				"fraudReports": 0,
				"fraudRatio":   0.0,
				"blacklisted":  false,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get reputation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receiverId":   rec.ID,
		"totalReports": rec.TotalReports,
		"fraudReports": rec.FraudReports,
		"fraudRatio":   rec.FraudRatio(),
		"blacklisted":  rec.Blacklisted(),
	})
}
