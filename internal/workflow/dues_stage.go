package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/dues"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type DuesStageStore interface {
	domain.DuesStore
	domain.RemittanceStore
}

type MonthlyDuesParams struct {
	TenantID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// DuesStage bills every member with an active assignment once per period.
type DuesStage struct {
	store      DuesStageStore
	calculator *dues.Calculator
	logger     *logger.Logger
	now        func() time.Time
}

func NewDuesStage(store DuesStageStore, calculator *dues.Calculator, log *logger.Logger) *DuesStage {
	return &DuesStage{store: store, calculator: calculator, logger: log, now: time.Now}
}

func (s *DuesStage) Name() string { return StageMonthlyDues }

func (s *DuesStage) Cadence() string { return "0 2 1 * *" }

// Run bills the calendar month containing the current date.
func (s *DuesStage) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	start, end := domain.MonthBounds(s.now().UTC())
	return s.ProcessMonthlyDues(ctx, MonthlyDuesParams{TenantID: tenantID, PeriodStart: start, PeriodEnd: end})
}

func (s *DuesStage) ProcessMonthlyDues(ctx context.Context, params MonthlyDuesParams) (*RunSummary, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	periodStart, periodEnd := domain.DateOf(params.PeriodStart), domain.DateOf(params.PeriodEnd)
	if periodStart.IsZero() || periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("invalid billing period %s to %s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	}

	summary := newSummary(StageMonthlyDues, params.TenantID, s.now().UTC())

	assignments, err := s.store.ListActiveAssignments(ctx, params.TenantID, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list active assignments: %w", err)
	}
	summary.Counts["assignments"] = len(assignments)

	for i := range assignments {
		if err := ctx.Err(); err != nil {
			summary.warn("run cancelled after %d of %d assignments", i, len(assignments))
			break
		}
		s.billAssignment(ctx, &assignments[i], periodStart, periodEnd, summary)
	}

	summary.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "Monthly dues processed",
		"period_start", periodStart.Format("2006-01-02"),
		"created", summary.Counts["created"],
		"skipped", summary.Counts["skipped"],
		"failed", len(summary.Errors),
	)
	return summary, nil
}

func (s *DuesStage) billAssignment(ctx context.Context, a *domain.DuesAssignment, periodStart, periodEnd time.Time, summary *RunSummary) {
	exists, err := s.store.TransactionExistsForPeriod(ctx, a.TenantID, a.MemberID, periodStart, periodEnd)
	if err != nil {
		summary.fail("assignment", a.ID, err)
		return
	}
	if exists {
		summary.inc("skipped")
		return
	}

	rule, err := s.store.GetDuesRule(ctx, a.TenantID, a.RuleID)
	if errors.Is(err, domain.ErrRuleNotFound) {
		summary.inc("skipped")
		summary.warn("member %s: rule %s not found", a.MemberID, a.RuleID)
		return
	}
	if err != nil {
		summary.fail("assignment", a.ID, err)
		return
	}
	if !rule.EffectiveOn(periodEnd) {
		summary.inc("skipped")
		summary.warn("member %s: rule %s is not in effect", a.MemberID, rule.ID)
		return
	}

	in := dues.Input{
		MemberID:    a.MemberID,
		Rule:        *rule,
		Assignment:  a,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	wages, err := s.store.GetWageData(ctx, a.TenantID, a.MemberID, periodStart, periodEnd)
	switch {
	case err == nil:
		in.GrossWages = &wages.GrossWages
		if wages.HoursWorked.IsPositive() {
			in.HoursWorked = &wages.HoursWorked
		}
		if wages.OvertimeHours.IsPositive() {
			in.OvertimeHours = &wages.OvertimeHours
		}
	case errors.Is(err, domain.ErrRemittanceNotFound):
	default:
		summary.fail("assignment", a.ID, fmt.Errorf("failed to load wage data: %w", err))
		return
	}

	result := s.calculator.CalculateMemberDues(in)
	if !result.OK() {
		summary.fail("member", a.MemberID, errors.New(strings.Join(result.Errors, "; ")))
		return
	}
	if result.TotalAmount.IsZero() {
		summary.inc("skipped")
		summary.warn("member %s: calculated dues are zero", a.MemberID)
		return
	}

	now := s.now().UTC()
	tx := &domain.DuesTransaction{
		ID:              uuid.New().String(),
		TenantID:        a.TenantID,
		MemberID:        a.MemberID,
		RuleID:          rule.ID,
		CalculationType: result.CalculationType,
		Amount:          result.TotalAmount,
		LateFee:         money.Zero,
		TotalAmount:     result.TotalAmount,
		PaidAmount:      money.Zero,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		DueDate:         result.DueDate,
		Status:          domain.TransactionStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.store.CreateDuesTransaction(ctx, tx)
	if errors.Is(err, domain.ErrDuplicateTransaction) {
		summary.inc("skipped")
		return
	}
	if err != nil {
		summary.fail("member", a.MemberID, err)
		return
	}

	summary.inc("created")
	summary.add("billed", tx.TotalAmount)
}
