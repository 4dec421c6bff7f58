package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/middleware"
	"github.com/grachmannico95/dues-ledger/internal/service"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/labstack/echo/v4"
)

const SignatureHeader = "X-Signature"

type recordPaymentRequest struct {
	ID         string      `json:"id" validate:"omitempty,max=100"`
	MemberID   string      `json:"member_id" validate:"required,max=100"`
	Amount     money.Money `json:"amount"`
	Method     string      `json:"method" validate:"required,oneof=card ach cheque cash eft"`
	Reference  string      `json:"reference" validate:"max=200"`
	ReceivedAt *time.Time  `json:"received_at"`
}

type PaymentHandler struct {
	service  service.PaymentService
	logger   *logger.Logger
	maxBytes int64
}

func NewPaymentHandler(service service.PaymentService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		logger:   log,
		maxBytes: 1 << 20,
	}
}

func (h *PaymentHandler) Record(c echo.Context) error {
	ctx := c.Request().Context()

	var req recordPaymentRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}
	if !req.Amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
	}

	in := service.NewPayment{
		ID:        req.ID,
		TenantID:  middleware.TenantID(c),
		MemberID:  req.MemberID,
		Amount:    req.Amount,
		Method:    domain.PaymentMethod(req.Method),
		Reference: req.Reference,
	}
	if req.ReceivedAt != nil {
		in.ReceivedAt = *req.ReceivedAt
	}

	payment, err := h.service.RecordPayment(ctx, in)
	if err != nil {
		h.logger.Error(ctx, "Failed to record payment",
			"member_id", req.MemberID,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to record payment")
	}

	return c.JSON(http.StatusCreated, payment)
}

// Webhook takes the tenant from the signed event, not from a header.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	ctx := c.Request().Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read body",
		})
	}

	payment, err := h.service.HandleWebhook(ctx, payload, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		h.logger.Warn(ctx, "Webhook rejected", "error", err.Error())
		return errorResponse(c, err, "failed to process webhook")
	}
	if payment == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":     "recorded",
		"payment_id": payment.ID,
	})
}
