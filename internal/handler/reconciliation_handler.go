package handler

import (
	"net/http"
	"strconv"

	"github.com/grachmannico95/dues-ledger/internal/middleware"
	"github.com/grachmannico95/dues-ledger/internal/service"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
)

// ReconciliationHandler accepts remittance and bank statement uploads as
// multipart forms with the file under "file".
type ReconciliationHandler struct {
	service service.ReconciliationService
	logger  *logger.Logger
}

func NewReconciliationHandler(service service.ReconciliationService, log *logger.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{
		service: service,
		logger:  log,
	}
}

func (h *ReconciliationHandler) ParseRemittance(c echo.Context) error {
	ctx := c.Request().Context()

	upload, closeFn, err := h.remittanceUpload(c)
	if err != nil {
		return err
	}
	if upload == nil {
		return nil
	}
	defer closeFn()

	outcome, err := h.service.ParseRemittance(ctx, *upload)
	if err != nil {
		h.logger.Error(ctx, "Failed to parse remittance",
			"file_name", upload.FileName,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to parse remittance")
	}

	return c.JSON(http.StatusOK, outcome)
}

func (h *ReconciliationHandler) ReconcileRemittance(c echo.Context) error {
	ctx := c.Request().Context()

	upload, closeFn, err := h.remittanceUpload(c)
	if err != nil {
		return err
	}
	if upload == nil {
		return nil
	}
	defer closeFn()

	outcome, err := h.service.ReconcileRemittance(ctx, *upload)
	if err != nil {
		h.logger.Error(ctx, "Failed to reconcile remittance",
			"file_name", upload.FileName,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to reconcile remittance")
	}

	return c.JSON(http.StatusOK, outcome)
}

func (h *ReconciliationHandler) ReconcileBankStatement(c echo.Context) error {
	ctx := c.Request().Context()

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "file is required",
		})
	}
	if _, err := dates.ParseOrder(c.FormValue("date_order")); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	src, err := file.Open()
	if err != nil {
		h.logger.Error(ctx, "Failed to open file", "error", err.Error())
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to open file",
		})
	}
	defer src.Close()

	outcome, err := h.service.ReconcileBankStatement(ctx, service.BankStatementUpload{
		TenantID:  middleware.TenantID(c),
		Format:    c.FormValue("format"),
		DateOrder: c.FormValue("date_order"),
		Reader:    src,
	})
	if err != nil {
		h.logger.Error(ctx, "Failed to reconcile bank statement",
			"file_name", file.Filename,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to reconcile bank statement")
	}

	return c.JSON(http.StatusOK, outcome)
}

// remittanceUpload returns a nil upload once an error response is written.
func (h *ReconciliationHandler) remittanceUpload(c echo.Context) (*service.RemittanceUpload, func(), error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "file is required",
		})
	}

	store := false
	if v := c.FormValue("store"); v != "" {
		store, err = strconv.ParseBool(v)
		if err != nil {
			return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{
				"error": "store must be true or false",
			})
		}
	}
	employerID := c.FormValue("employer_id")
	if store && employerID == "" {
		return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "employer_id is required to store a remittance",
		})
	}

	if _, err := dates.ParseOrder(c.FormValue("date_order")); err != nil {
		return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	src, err := file.Open()
	if err != nil {
		h.logger.Error(c.Request().Context(), "Failed to open file", "error", err.Error())
		return nil, nil, c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to open file",
		})
	}

	return &service.RemittanceUpload{
		TenantID:   middleware.TenantID(c),
		EmployerID: employerID,
		FileName:   file.Filename,
		Format:     c.FormValue("format"),
		DateOrder:  c.FormValue("date_order"),
		Store:      store,
		Reader:     src,
	}, func() { src.Close() }, nil
}
