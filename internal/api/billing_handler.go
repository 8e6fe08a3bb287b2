package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/models"
)

// maxWebhookBytes caps the webhook body read before signature verification.
const maxWebhookBytes = 1 << 20

// BillingHandler handles billing and subscription endpoints.
type BillingHandler struct {
	billing   core.BillingService
	lifecycle core.LifecycleService
	logger    *zap.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(billing core.BillingService, lifecycle core.LifecycleService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, lifecycle: lifecycle, logger: logger}
}

// ListPlans handles GET /billing/plans.
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans, err := h.billing.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(plans) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No plans available"})
		return
	}
	c.JSON(http.StatusOK, plans)
}

// CreateCheckoutSession handles POST /billing/checkout-session.
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	session, err := h.billing.CreateCheckoutSession(c.Request.Context(), accountID, req.IsAnnual)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// CreatePaymentMethodSession handles POST /billing/payment-method-session.
func (h *BillingHandler) CreatePaymentMethodSession(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	session, err := h.billing.CreatePaymentMethodSession(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ConfirmPaymentMethodSession handles GET /billing/payment-method-session?session_id=.
func (h *BillingHandler) ConfirmPaymentMethodSession(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	pm, err := h.billing.ConfirmPaymentMethod(c.Request.Context(), accountID, c.Query("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Payment method saved", Data: pm})
}

// DeletePaymentMethod handles POST /billing/payment-methods/delete.
func (h *BillingHandler) DeletePaymentMethod(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	var req models.DeletePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}
	if err := h.billing.DeletePaymentMethod(c.Request.Context(), accountID, req.PaymentMethodID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Payment method removed"})
}

// CreatePortalSession handles POST /billing/portal-session.
func (h *BillingHandler) CreatePortalSession(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	url, err := h.billing.CreatePortalSession(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, PortalSessionResponse{URL: url})
}

// ActivatePlan handles POST /billing/activate.
func (h *BillingHandler) ActivatePlan(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	var req models.ActivatePlanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	account, err := h.lifecycle.ActivatePlan(c.Request.Context(), accountID, req.IsAnnual)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Plan activated", Data: account})
}

// CancelSubscription handles POST /billing/cancel.
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	if err := h.lifecycle.CancelSubscription(c.Request.Context(), accountID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Subscription cancelled"})
}

// CheckTrial handles POST /billing/check-trial.
func (h *BillingHandler) CheckTrial(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	account, err := h.lifecycle.CheckTrialExpiration(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, TrialStatusResponse{
		Status:  string(account.Status),
		Expired: account.Status == models.StatusExpired,
	})
}

// RenewIfDue handles POST /billing/renew.
func (h *BillingHandler) RenewIfDue(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	renewed, err := h.lifecycle.RenewIfDue(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, RenewResponse{Renewed: renewed})
}

// HandleStripeWebhook handles POST /billing/webhooks/stripe. It is public; the raw body
// and the Stripe-Signature header are handed to the lifecycle untouched, which verifies
// the signature before reading the event.
func (h *BillingHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read webhook payload"})
		return
	}

	res, err := h.lifecycle.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// bindOptionalJSON binds a JSON body when one was sent. An empty body keeps the zero value.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return false
	}
	return true
}
