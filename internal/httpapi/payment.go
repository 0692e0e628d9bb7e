package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"marinedesk-portal/pkg/errutil"
	"marinedesk-portal/services/payment"
)

type PaymentHandler struct {
	service *payment.Service
}

type PaymentHandlerParams struct {
	fx.In
	Service *payment.Service
}

func NewPaymentHandler(p PaymentHandlerParams) *PaymentHandler {
	return &PaymentHandler{service: p.Service}
}

type paymentEventRequest struct {
	PaymentID        string           `json:"payment_id" binding:"required"`
	OrganizationID   string           `json:"organization_id" binding:"required"`
	OrganizationType string           `json:"organization_type"`
	Status           string           `json:"status" binding:"required"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	PlanCode         string           `json:"plan_code"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	UsageLimits      map[string]int64 `json:"usage_limits"`
	Pricing          json.RawMessage  `json:"pricing"`
}

// HandleEvent ingests a payment gateway notification. Redeliveries of the
// same payment id are accepted and answered with the stored record.
func (h *PaymentHandler) HandleEvent(c *gin.Context) {
	var req paymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errutil.BadRequest("invalid payment event payload", err))
		return
	}

	record, err := h.service.RecordNotification(c.Request.Context(), payment.NotificationParams{
		PaymentID:        req.PaymentID,
		OrganizationID:   req.OrganizationID,
		OrganizationType: req.OrganizationType,
		Status:           payment.PaymentStatus(req.Status),
		Amount:           req.Amount,
		Currency:         req.Currency,
		PlanCode:         req.PlanCode,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		UsageLimits:      req.UsageLimits,
		Pricing:          req.Pricing,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, record)
}

type manualApprovalRequest struct {
	OrganizationID   string           `json:"organization_id" binding:"required"`
	OrganizationType string           `json:"organization_type"`
	PlanCode         string           `json:"plan_code"`
	PeriodEnd        time.Time        `json:"period_end"`
	UsageLimits      map[string]int64 `json:"usage_limits"`
}

// ApproveManual lets an administrator grant or extend a license without a
// gateway payment behind it.
func (h *PaymentHandler) ApproveManual(c *gin.Context) {
	var req manualApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errutil.BadRequest("invalid manual approval payload", err))
		return
	}

	record, err := h.service.ApproveManual(c.Request.Context(), payment.ManualApprovalParams{
		OrganizationID:   req.OrganizationID,
		OrganizationType: req.OrganizationType,
		PlanCode:         req.PlanCode,
		PeriodEnd:        req.PeriodEnd,
		UsageLimits:      req.UsageLimits,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, record)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	record, err := h.service.GetPayment(c.Request.Context(), c.Param("payment_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
