package handler

import (
	"net/http"

	"github.com/grachmannico95/dues-ledger/internal/dues"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
)

type calculateDuesRequest struct {
	Inputs []dues.Input `json:"inputs" validate:"required,min=1,max=5000"`
}

type DuesHandler struct {
	calculator *dues.Calculator
	logger     *logger.Logger
}

func NewDuesHandler(calculator *dues.Calculator, log *logger.Logger) *DuesHandler {
	return &DuesHandler{
		calculator: calculator,
		logger:     log,
	}
}

// Calculate prices a batch without billing anyone. Per-member failures are
// reported in the results and do not fail the request.
func (h *DuesHandler) Calculate(c echo.Context) error {
	ctx := c.Request().Context()

	var req calculateDuesRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	result, err := h.calculator.BatchCalculate(ctx, req.Inputs)
	if err != nil {
		h.logger.Error(ctx, "Failed to calculate dues",
			"inputs", len(req.Inputs),
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to calculate dues")
	}

	return c.JSON(http.StatusOK, result)
}
