package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/payments"
	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/labstack/echo/v4"
)

// RequestValidator plugs go-playground/validator into echo's c.Validate.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// bindRequest decodes and validates the body. When it returns false the
// error response has already been written.
func bindRequest(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": validationFields(err),
		})
	}
	return true, nil
}

func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["request"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRuleNotFound),
		errors.Is(err, domain.ErrAssignmentNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrArrearsNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrFundNotFound),
		errors.Is(err, domain.ErrStipendNotFound),
		errors.Is(err, domain.ErrJournalEntryNotFound),
		errors.Is(err, domain.ErrRemittanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrRunInProgress),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrStaleState),
		errors.Is(err, domain.ErrPaymentAlreadyProcessed),
		errors.Is(err, domain.ErrDuplicateJournalEntry),
		errors.Is(err, domain.ErrDuplicatePayment),
		errors.Is(err, domain.ErrDuplicateTransaction),
		errors.Is(err, domain.ErrDuplicateStipend):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrTooManyRows),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrInvalidJournalEntry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, payments.ErrMalformedWebhook):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse writes err with its mapped status. Server errors get the
// generic message so internals never reach the client.
func errorResponse(c echo.Context, err error, generic string) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return c.JSON(status, map[string]string{"error": generic})
	}

	body := map[string]interface{}{"error": err.Error()}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = verr.Errors
	}
	return c.JSON(status, body)
}
