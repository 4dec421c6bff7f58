package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/payments"
	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", domain.ErrStipendNotFound), http.StatusNotFound},
		{domain.ErrJournalEntryNotFound, http.StatusNotFound},
		{workflow.ErrRunInProgress, http.StatusConflict},
		{fmt.Errorf("%w: already disbursed", domain.ErrInvalidStatus), http.StatusConflict},
		{domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{domain.ErrUnsupportedFormat, http.StatusUnprocessableEntity},
		{&ledger.ValidationError{Errors: []string{"x"}}, http.StatusUnprocessableEntity},
		{payments.ErrInvalidSignature, http.StatusUnauthorized},
		{payments.ErrMalformedWebhook, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestErrorResponse_HidesInternalErrors(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, errorResponse(c, errors.New("dial tcp 10.0.0.3: refused"), "failed to load"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load")
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, errorResponse(c, &ledger.ValidationError{Errors: []string{"line 1: account is required"}}, "failed"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors":["line 1: account is required"]`)
}

func TestBindRequest_ReportsFields(t *testing.T) {
	e := echo.New()
	e.Validator = NewRequestValidator()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"method":"barter"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var body recordPaymentRequest
	ok, err := bindRequest(c, &body)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"MemberID":"required"`)
	assert.Contains(t, rec.Body.String(), `"Method":"oneof"`)
}
