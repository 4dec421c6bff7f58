package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

type ArrearsStageStore interface {
	domain.DuesStore
	domain.ArrearsStore
}

type ArrearsConfig struct {
	// LateFeeRate is applied to a transaction's amount when it becomes
	// overdue. Zero disables late fees.
	LateFeeRate decimal.Decimal
	// Thresholds must be sorted by MinDaysOverdue descending.
	Thresholds []domain.StageThreshold
}

func DefaultArrearsConfig() ArrearsConfig {
	return ArrearsConfig{
		LateFeeRate: decimal.Zero,
		Thresholds:  domain.DefaultStageThresholds,
	}
}

type ArrearsParams struct {
	TenantID string
	AsOf     time.Time
}

var stageRank = map[domain.NotificationStage]int{
	domain.StageReminder:    0,
	domain.StageWarning:     1,
	domain.StageFinal:       2,
	domain.StageCollections: 3,
}

// ArrearsStage moves past-due transactions to overdue and keeps one active
// arrears record per member, escalating its notification stage with age.
type ArrearsStage struct {
	store     ArrearsStageStore
	publisher eventbus.Publisher
	cfg       ArrearsConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewArrearsStage accepts a nil publisher when notifications are disabled.
func NewArrearsStage(store ArrearsStageStore, publisher eventbus.Publisher, cfg ArrearsConfig, log *logger.Logger) *ArrearsStage {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = domain.DefaultStageThresholds
	}
	return &ArrearsStage{store: store, publisher: publisher, cfg: cfg, logger: log, now: time.Now}
}

func (s *ArrearsStage) Name() string { return StageArrears }

func (s *ArrearsStage) Cadence() string { return "0 3 * * 1" }

func (s *ArrearsStage) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	return s.ProcessArrears(ctx, ArrearsParams{TenantID: tenantID, AsOf: s.now().UTC()})
}

type memberDebt struct {
	memberID string
	owed     money.Money
	oldest   time.Time
}

func (s *ArrearsStage) ProcessArrears(ctx context.Context, params ArrearsParams) (*RunSummary, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	asOf := domain.DateOf(params.AsOf)
	summary := newSummary(StageArrears, params.TenantID, s.now().UTC())

	pastDue, err := s.store.ListPendingPastDue(ctx, params.TenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list past due transactions: %w", err)
	}
	summary.Counts["past_due"] = len(pastDue)

	var debts []*memberDebt
	byMember := map[string]*memberDebt{}
	for _, tx := range pastDue {
		lateFee := tx.Amount.Mul(s.cfg.LateFeeRate).Round()
		updated, err := s.store.MarkOverdue(ctx, params.TenantID, tx.ID, lateFee, s.now().UTC())
		if errors.Is(err, domain.ErrStaleState) {
			summary.inc("skipped")
			continue
		}
		if err != nil {
			summary.fail("transaction", tx.ID, err)
			continue
		}
		summary.inc("marked_overdue")
		if lateFee.IsPositive() {
			summary.add("late_fees", lateFee)
		}

		d, ok := byMember[updated.MemberID]
		if !ok {
			d = &memberDebt{memberID: updated.MemberID, owed: money.Zero, oldest: domain.DateOf(updated.DueDate)}
			byMember[updated.MemberID] = d
			debts = append(debts, d)
		}
		d.owed = d.owed.Add(updated.Outstanding())
		if due := domain.DateOf(updated.DueDate); due.Before(d.oldest) {
			d.oldest = due
		}
	}

	touched := map[string]bool{}
	for _, d := range debts {
		touched[d.memberID] = true
		s.applyDebt(ctx, params.TenantID, d, asOf, summary)
	}

	active, err := s.store.ListActiveArrears(ctx, params.TenantID)
	if err != nil {
		summary.fail("arrears", "", fmt.Errorf("failed to list active arrears: %w", err))
	}
	for i := range active {
		if touched[active[i].MemberID] {
			continue
		}
		s.escalate(ctx, &active[i], asOf, summary)
	}

	summary.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "Arrears processed",
		"as_of", asOf.Format("2006-01-02"),
		"marked_overdue", summary.Counts["marked_overdue"],
		"arrears_created", summary.Counts["arrears_created"],
		"arrears_updated", summary.Counts["arrears_updated"],
		"escalated", summary.Counts["escalated"],
	)
	return summary, nil
}

// applyDebt creates the member's active arrears or adds to it.
func (s *ArrearsStage) applyDebt(ctx context.Context, tenantID string, d *memberDebt, asOf time.Time, summary *RunSummary) {
	now := s.now().UTC()

	arrears, err := s.store.GetActiveArrears(ctx, tenantID, d.memberID)
	if errors.Is(err, domain.ErrArrearsNotFound) {
		arrears = &domain.Arrears{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			MemberID:       d.memberID,
			TotalOwed:      d.owed,
			OldestDebtDate: d.oldest,
			Status:         domain.ArrearsStatusActive,
			CreatedAt:      now,
		}
		arrears.NotificationStage = domain.StageFor(s.cfg.Thresholds, domain.DaysBetween(d.oldest, asOf))
		arrears.LastContactDate = &now
		arrears.UpdatedAt = now
		if err := s.store.CreateArrears(ctx, arrears); err != nil {
			summary.fail("member", d.memberID, fmt.Errorf("failed to create arrears: %w", err))
			return
		}
		summary.inc("arrears_created")
		summary.add("arrears_owed", d.owed)
		s.notify(ctx, arrears, summary)
		return
	}
	if err != nil {
		summary.fail("member", d.memberID, err)
		return
	}

	arrears.TotalOwed = arrears.TotalOwed.Add(d.owed)
	if arrears.OldestDebtDate.IsZero() || d.oldest.Before(domain.DateOf(arrears.OldestDebtDate)) {
		arrears.OldestDebtDate = d.oldest
	}
	if stage := domain.StageFor(s.cfg.Thresholds, domain.DaysBetween(arrears.OldestDebtDate, asOf)); stageRank[stage] > stageRank[arrears.NotificationStage] {
		arrears.NotificationStage = stage
	}
	arrears.LastContactDate = &now
	arrears.UpdatedAt = now
	if err := s.store.UpdateArrears(ctx, arrears); err != nil {
		summary.fail("arrears", arrears.ID, err)
		return
	}
	summary.inc("arrears_updated")
	summary.add("arrears_owed", d.owed)
	s.notify(ctx, arrears, summary)
}

// escalate raises the stage of arrears that aged past a threshold. Stages
// never move down here.
func (s *ArrearsStage) escalate(ctx context.Context, arrears *domain.Arrears, asOf time.Time, summary *RunSummary) {
	stage := domain.StageFor(s.cfg.Thresholds, domain.DaysBetween(arrears.OldestDebtDate, asOf))
	if stageRank[stage] <= stageRank[arrears.NotificationStage] {
		return
	}

	now := s.now().UTC()
	arrears.NotificationStage = stage
	arrears.LastContactDate = &now
	arrears.UpdatedAt = now
	if err := s.store.UpdateArrears(ctx, arrears); err != nil {
		summary.fail("arrears", arrears.ID, err)
		return
	}
	summary.inc("escalated")
	s.notify(ctx, arrears, summary)
}

func (s *ArrearsStage) notify(ctx context.Context, arrears *domain.Arrears, summary *RunSummary) {
	n := domain.Notification{
		ID:       ArrearsNotificationID(arrears),
		TenantID: arrears.TenantID,
		MemberID: arrears.MemberID,
		Kind:     domain.NotificationArrears,
		Subject:  arrearsSubject(arrears.NotificationStage),
		Data: map[string]string{
			"arrears_id":       arrears.ID,
			"stage":            string(arrears.NotificationStage),
			"total_owed":       arrears.TotalOwed.String(),
			"oldest_debt_date": arrears.OldestDebtDate.Format("2006-01-02"),
		},
	}
	publish(ctx, s.publisher, eventbus.NewNotificationEvent(n, s.now().UTC()), summary)
}

// ArrearsNotificationID identifies one notice for an arrears record at a
// given stage and balance.
func ArrearsNotificationID(a *domain.Arrears) string {
	return fmt.Sprintf("arrears:%s:%s:%s", a.ID, a.NotificationStage, a.TotalOwed)
}

func arrearsSubject(stage domain.NotificationStage) string {
	switch stage {
	case domain.StageWarning:
		return "Warning: your union dues are past due"
	case domain.StageFinal:
		return "Final notice: unpaid union dues"
	case domain.StageCollections:
		return "Your dues account has been referred to collections"
	default:
		return "Reminder: union dues payment due"
	}
}
