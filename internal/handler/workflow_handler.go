package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/middleware"
	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

type runStageRequest struct {
	PeriodStart string `json:"period_start" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
	AsOf        string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	WeekStart   string `json:"week_start" validate:"omitempty,datetime=2006-01-02"`
	FundID      string `json:"fund_id" validate:"required_with=WeekStart"`
}

type approveStipendRequest struct {
	Approver string `json:"approver" validate:"required,max=100"`
}

// WorkflowHandler runs stages on demand. Every run goes through the runner,
// so it never overlaps a scheduled run of the same stage and tenant.
type WorkflowHandler struct {
	runner   *workflow.Runner
	dues     *workflow.DuesStage
	arrears  *workflow.ArrearsStage
	payments *workflow.PaymentStage
	stipends *workflow.StipendStage
	logger   *logger.Logger
}

func NewWorkflowHandler(
	runner *workflow.Runner,
	dues *workflow.DuesStage,
	arrears *workflow.ArrearsStage,
	payments *workflow.PaymentStage,
	stipends *workflow.StipendStage,
	log *logger.Logger,
) *WorkflowHandler {
	return &WorkflowHandler{
		runner:   runner,
		dues:     dues,
		arrears:  arrears,
		payments: payments,
		stipends: stipends,
		logger:   log,
	}
}

func (h *WorkflowHandler) RunStage(c echo.Context) error {
	ctx := c.Request().Context()
	stage := c.Param("stage")

	var req runStageRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	task, ok := h.task(stage, req)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "unknown stage " + stage,
		})
	}

	summary, err := h.runner.Run(ctx, task, middleware.TenantID(c))
	if err != nil {
		if !errors.Is(err, workflow.ErrRunInProgress) {
			h.logger.Error(ctx, "Failed to run stage",
				"stage", stage,
				"error", err.Error(),
			)
		}
		return errorResponse(c, err, "failed to run stage")
	}

	return c.JSON(http.StatusOK, summary)
}

// task binds the request's parameters to the stage. Without parameters the
// stage runs exactly as the scheduler would run it.
func (h *WorkflowHandler) task(stage string, req runStageRequest) (workflow.Task, bool) {
	switch stage {
	case workflow.StageMonthlyDues:
		if req.PeriodStart == "" {
			return h.dues, true
		}
		start := parseDay(req.PeriodStart)
		_, end := domain.MonthBounds(start)
		if req.PeriodEnd != "" {
			end = parseDay(req.PeriodEnd)
		}
		return workflow.TaskFunc{Stage: stage, Fn: func(ctx context.Context, tenantID string) (*workflow.RunSummary, error) {
			return h.dues.ProcessMonthlyDues(ctx, workflow.MonthlyDuesParams{TenantID: tenantID, PeriodStart: start, PeriodEnd: end})
		}}, true
	case workflow.StageArrears:
		if req.AsOf == "" {
			return h.arrears, true
		}
		asOf := parseDay(req.AsOf)
		return workflow.TaskFunc{Stage: stage, Fn: func(ctx context.Context, tenantID string) (*workflow.RunSummary, error) {
			return h.arrears.ProcessArrears(ctx, workflow.ArrearsParams{TenantID: tenantID, AsOf: asOf})
		}}, true
	case workflow.StagePayments:
		return h.payments, true
	case workflow.StageStipends:
		if req.WeekStart == "" {
			return h.stipends, true
		}
		week := parseDay(req.WeekStart)
		return workflow.TaskFunc{Stage: stage, Fn: func(ctx context.Context, tenantID string) (*workflow.RunSummary, error) {
			return h.stipends.ProcessWeeklyStipends(ctx, workflow.StipendParams{TenantID: tenantID, FundID: req.FundID, WeekStart: week})
		}}, true
	default:
		return nil, false
	}
}

func (h *WorkflowHandler) ApproveStipend(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req approveStipendRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	stipend, err := h.stipends.Approve(ctx, middleware.TenantID(c), id, req.Approver)
	if err != nil {
		h.logger.Warn(ctx, "Failed to approve stipend",
			"stipend_id", id,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to approve stipend")
	}

	return c.JSON(http.StatusOK, stipend)
}

func (h *WorkflowHandler) DisburseStipends(c echo.Context) error {
	ctx := c.Request().Context()

	task := workflow.TaskFunc{Stage: workflow.StageStipends, Fn: h.stipends.DisburseApproved}
	summary, err := h.runner.Run(ctx, task, middleware.TenantID(c))
	if err != nil {
		if !errors.Is(err, workflow.ErrRunInProgress) {
			h.logger.Error(ctx, "Failed to disburse stipends", "error", err.Error())
		}
		return errorResponse(c, err, "failed to disburse stipends")
	}

	return c.JSON(http.StatusOK, summary)
}

// parseDay is only called on values the validator accepted.
func parseDay(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}
