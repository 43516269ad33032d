package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/models"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// PaymentLedger is the slice of the quota ledger the payment endpoints drive.
type PaymentLedger interface {
	Register(ctx context.Context, phone string, plan models.PaymentPlan) (quota.Account, bool, error)
	Account(ctx context.Context, phone string) (quota.Account, error)
	AddQuota(ctx context.Context, phone string, kind models.UsageKind, amount float64) (quota.Account, error)
	ExtendSubscription(ctx context.Context, phone string, months int) (quota.Account, error)
}

// PaymentHandler serves the administrative plan and balance endpoints.
type PaymentHandler struct {
	ledger PaymentLedger // Quota ledger.
}

// NewPaymentHandler constructs a payment handler.
func NewPaymentHandler(ledger PaymentLedger) *PaymentHandler {
	return &PaymentHandler{ledger: ledger}
}

// accountResponse is the JSON view of an account after a mutation.
type accountResponse struct {
	PhoneNumber         string     `json:"phoneNumber"`         // Normalized phone number.
	PaymentPlan         string     `json:"paymentPlan"`         // free, payPerUse or subscription.
	AudioMinutesLimit   float64    `json:"audioMinutesLimit"`   // Granted audio minutes.
	AudioMinutesUsed    float64    `json:"audioMinutesUsed"`    // Consumed audio minutes.
	DocumentUnitsLimit  float64    `json:"documentUnitsLimit"`  // Granted document units.
	DocumentUnitsUsed   float64    `json:"documentUnitsUsed"`   // Consumed document units.
	SubscriptionEndDate *time.Time `json:"subscriptionEndDate"` // Subscription end, null when unset.
	LastResetDate       time.Time  `json:"lastResetDate"`       // Start of the current usage window.
	Created             *bool      `json:"created,omitempty"`   // Register only: whether a new user was inserted.
}

func newAccountResponse(acc quota.Account) accountResponse {
	return accountResponse{
		PhoneNumber:         acc.Phone,
		PaymentPlan:         string(acc.Plan),
		AudioMinutesLimit:   acc.AudioMinutesLimit,
		AudioMinutesUsed:    acc.AudioMinutesUsed,
		DocumentUnitsLimit:  acc.DocumentUnitsLimit,
		DocumentUnitsUsed:   acc.DocumentUnitsUsed,
		SubscriptionEndDate: acc.SubscriptionEndDate,
		LastResetDate:       acc.LastResetDate,
	}
}

// registerRequest captures the payload for registering a user.
type registerRequest struct {
	PhoneNumber string `json:"phoneNumber"` // Phone number in any format.
	PaymentPlan string `json:"paymentPlan"` // Optional plan, defaults to free.
}

// Register creates a user with the default grant. Registering an existing
// phone returns it unchanged.
func (h *PaymentHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": apperr.KindInvalidInput.Code()})
		return
	}
	plan := models.PaymentPlan(strings.TrimSpace(body.PaymentPlan))
	if plan != "" && !plan.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment plan", "code": apperr.KindInvalidInput.Code()})
		return
	}

	acc, created, errRegister := h.ledger.Register(c.Request.Context(), body.PhoneNumber, plan)
	if errRegister != nil {
		writeError(c, errRegister)
		return
	}
	resp := newAccountResponse(acc)
	resp.Created = &created
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

// addMinutesRequest captures the payload for raising the audio limit.
type addMinutesRequest struct {
	PhoneNumber string  `json:"phoneNumber"` // Target phone number.
	Minutes     float64 `json:"minutes"`     // Minutes to add, must be positive.
}

// AddMinutes raises the audio minutes limit.
func (h *PaymentHandler) AddMinutes(c *gin.Context) {
	var body addMinutesRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": apperr.KindInvalidInput.Code()})
		return
	}
	acc, errAdd := h.ledger.AddQuota(c.Request.Context(), body.PhoneNumber, models.UsageAudio, body.Minutes)
	if errAdd != nil {
		writeError(c, errAdd)
		return
	}
	c.JSON(http.StatusOK, newAccountResponse(acc))
}

// addUnitsRequest captures the payload for raising the document limit.
type addUnitsRequest struct {
	PhoneNumber string  `json:"phoneNumber"` // Target phone number.
	Units       float64 `json:"units"`       // Units to add, must be positive.
}

// AddUnits raises the document units limit.
func (h *PaymentHandler) AddUnits(c *gin.Context) {
	var body addUnitsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": apperr.KindInvalidInput.Code()})
		return
	}
	acc, errAdd := h.ledger.AddQuota(c.Request.Context(), body.PhoneNumber, models.UsageDocument, body.Units)
	if errAdd != nil {
		writeError(c, errAdd)
		return
	}
	c.JSON(http.StatusOK, newAccountResponse(acc))
}

// extendSubscriptionRequest captures the payload for extending a subscription.
type extendSubscriptionRequest struct {
	PhoneNumber string `json:"phoneNumber"` // Target phone number.
	Months      int    `json:"months"`      // Months of 30 days, must be positive.
}

// ExtendSubscription pushes the subscription end date forward.
func (h *PaymentHandler) ExtendSubscription(c *gin.Context) {
	var body extendSubscriptionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": apperr.KindInvalidInput.Code()})
		return
	}
	acc, errExtend := h.ledger.ExtendSubscription(c.Request.Context(), body.PhoneNumber, body.Months)
	if errExtend != nil {
		writeError(c, errExtend)
		return
	}
	c.JSON(http.StatusOK, newAccountResponse(acc))
}

// timeUsageResponse is the balance view consumed by operators.
type timeUsageResponse struct {
	Used                float64    `json:"used"`                // Audio minutes used in the current window.
	Limit               float64    `json:"limit"`               // Audio minutes limit.
	Plan                string     `json:"plan"`                // Payment plan.
	SubscriptionEndDate *time.Time `json:"subscriptionEndDate"` // Subscription end, null when unset.
	DocumentUnitsUsed   float64    `json:"documentUnitsUsed"`   // Document units used in the current window.
	DocumentUnitsLimit  float64    `json:"documentUnitsLimit"`  // Document units limit.
	LastResetDate       time.Time  `json:"lastResetDate"`       // Start of the current usage window.
}

// TimeUsage returns the balance of the phone in the path.
func (h *PaymentHandler) TimeUsage(c *gin.Context) {
	acc, errAccount := h.ledger.Account(c.Request.Context(), c.Param("phoneNumber"))
	if errAccount != nil {
		writeError(c, errAccount)
		return
	}
	c.JSON(http.StatusOK, timeUsageResponse{
		Used:                acc.AudioMinutesUsed,
		Limit:               acc.AudioMinutesLimit,
		Plan:                string(acc.Plan),
		SubscriptionEndDate: acc.SubscriptionEndDate,
		DocumentUnitsUsed:   acc.DocumentUnitsUsed,
		DocumentUnitsLimit:  acc.DocumentUnitsLimit,
		LastResetDate:       acc.LastResetDate,
	})
}

// writeError maps a ledger failure to its HTTP status and JSON body.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindUserNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found", "code": kind.Code()})
	case apperr.KindInvalidInput, apperr.KindPlanMismatch:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": kind.Code()})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("admin: payment request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": apperr.KindUnknown.Code()})
	}
}
