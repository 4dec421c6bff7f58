package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/payments"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/grachmannico95/dues-ledger/pkg/retry"
	"github.com/shopspring/decimal"
)

const AutoApprover = "auto-approved"

// StipendRules price a member's picket week.
type StipendRules struct {
	DailyAmount        money.Money     `json:"daily_amount"`
	WeeklyMaxDays      int             `json:"weekly_max_days"`
	WeeklyMaxAmount    money.Money     `json:"weekly_max_amount"`
	MinimumHoursPerDay decimal.Decimal `json:"minimum_hours_per_day"`
	AutoApproveUnder   money.Money     `json:"auto_approve_under"`
	RequireApproval    bool            `json:"require_approval"`
}

func DefaultStipendRules() StipendRules {
	return StipendRules{
		DailyAmount:        money.FromInt(100),
		WeeklyMaxDays:      5,
		WeeklyMaxAmount:    money.FromInt(500),
		MinimumHoursPerDay: decimal.NewFromInt(4),
		AutoApproveUnder:   money.FromInt(100),
		RequireApproval:    true,
	}
}

type StipendParams struct {
	TenantID  string
	FundID    string
	WeekStart time.Time
	// Rules overrides the stage's configured rules when set.
	Rules *StipendRules
}

type StipendStageStore interface {
	domain.StipendStore
}

// StrikeFundPoster records stipend payouts in the general ledger.
type StrikeFundPoster interface {
	RecordStrikeFundWithdrawal(ctx context.Context, p ledger.Posting) (*domain.JournalEntry, error)
}

type StipendConfig struct {
	Rules         StipendRules
	Currency      string
	PayoutRetries int
	RetryDelay    time.Duration
}

func DefaultStipendConfig() StipendConfig {
	return StipendConfig{
		Rules:         DefaultStipendRules(),
		Currency:      "CAD",
		PayoutRetries: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// StipendStage turns approved picket attendance into weekly stipends and
// pays approved stipends out through the payment processor.
type StipendStage struct {
	store     StipendStageStore
	processor domain.PaymentProcessor
	poster    StrikeFundPoster
	publisher eventbus.Publisher
	cfg       StipendConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewStipendStage accepts nil for processor, poster and publisher. Without a
// processor approved stipends are left for a later disbursement run.
func NewStipendStage(store StipendStageStore, processor domain.PaymentProcessor, poster StrikeFundPoster, publisher eventbus.Publisher, cfg StipendConfig, log *logger.Logger) *StipendStage {
	if cfg.PayoutRetries <= 0 {
		cfg.PayoutRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "CAD"
	}
	return &StipendStage{
		store:     store,
		processor: processor,
		poster:    poster,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (s *StipendStage) Name() string { return StageStipends }

func (s *StipendStage) Cadence() string { return "0 5 * * 5" }

// Run prices the previous ISO week for every active fund, then disburses
// whatever is approved.
func (s *StipendStage) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	summary := newSummary(StageStipends, tenantID, s.now().UTC())
	week := domain.ISOWeekStart(s.now().UTC()).AddDate(0, 0, -7)

	funds, err := s.store.ListActiveStrikeFunds(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strike funds: %w", err)
	}
	for _, fund := range funds {
		fundSummary, err := s.ProcessWeeklyStipends(ctx, StipendParams{TenantID: tenantID, FundID: fund.ID, WeekStart: week})
		if err != nil {
			summary.fail("strike_fund", fund.ID, err)
			continue
		}
		summary.merge(fundSummary)
	}

	if s.processor != nil {
		disbursed, err := s.DisburseApproved(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		summary.merge(disbursed)
	}

	summary.FinishedAt = s.now().UTC()
	return summary, nil
}

type memberWeek struct {
	memberID string
	hours    map[string]decimal.Decimal
}

// ProcessWeeklyStipends creates at most one stipend per member for the ISO
// week containing params.WeekStart.
func (s *StipendStage) ProcessWeeklyStipends(ctx context.Context, params StipendParams) (*RunSummary, error) {
	if params.TenantID == "" || params.FundID == "" {
		return nil, errors.New("tenant id and fund id are required")
	}
	rules := s.cfg.Rules
	if params.Rules != nil {
		rules = *params.Rules
	}

	weekStart := domain.ISOWeekStart(params.WeekStart)
	weekEnd := weekStart.AddDate(0, 0, 6)
	summary := newSummary(StageStipends, params.TenantID, s.now().UTC())

	fund, err := s.store.GetStrikeFund(ctx, params.TenantID, params.FundID)
	if err != nil {
		return nil, err
	}
	if !fund.IsActive {
		summary.warn("strike fund %s is inactive", fund.ID)
		summary.FinishedAt = s.now().UTC()
		return summary, nil
	}
	minHours := rules.MinimumHoursPerDay
	if minHours.IsZero() {
		minHours = fund.MinimumAttendanceHours
	}

	attendance, err := s.store.ListApprovedAttendance(ctx, params.TenantID, fund.ID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}

	weeks := map[string]*memberWeek{}
	for _, a := range attendance {
		w, ok := weeks[a.MemberID]
		if !ok {
			w = &memberWeek{memberID: a.MemberID, hours: map[string]decimal.Decimal{}}
			weeks[a.MemberID] = w
		}
		day := domain.DateOf(a.Date).Format("2006-01-02")
		w.hours[day] = w.hours[day].Add(a.Hours)
	}
	members := make([]string, 0, len(weeks))
	for id := range weeks {
		members = append(members, id)
	}
	sort.Strings(members)
	summary.Counts["members"] = len(members)

	total := money.Zero
	for _, memberID := range members {
		days := qualifyingDays(weeks[memberID], minHours)
		if days == 0 {
			summary.inc("ineligible")
			continue
		}
		st, err := s.createStipend(ctx, fund, memberID, weekStart, weekEnd, days, rules)
		if errors.Is(err, domain.ErrDuplicateStipend) {
			summary.inc("skipped")
			continue
		}
		if err != nil {
			summary.fail("member", memberID, err)
			continue
		}

		summary.inc("created")
		summary.inc(string(st.Status))
		summary.add("stipends", st.CalculatedAmount)
		total = total.Add(st.CalculatedAmount)
		s.notify(ctx, st, summary)
	}

	if total.GreaterThan(fund.CurrentBalance) {
		summary.warn("strike fund %s balance %s is below this week's stipends %s", fund.ID, fund.CurrentBalance, total)
	}

	summary.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "Weekly stipends processed",
		"fund_id", fund.ID,
		"week_start", weekStart.Format("2006-01-02"),
		"created", summary.Counts["created"],
		"skipped", summary.Counts["skipped"],
		"total", total.String(),
	)
	return summary, nil
}

func qualifyingDays(w *memberWeek, minHours decimal.Decimal) int {
	days := 0
	for _, h := range w.hours {
		if h.GreaterThanOrEqual(minHours) {
			days++
		}
	}
	return days
}

// StipendAmount caps days and amount at the weekly limits.
func StipendAmount(rules StipendRules, days int) (int, money.Money) {
	if rules.WeeklyMaxDays > 0 && days > rules.WeeklyMaxDays {
		days = rules.WeeklyMaxDays
	}
	amount := rules.DailyAmount.Mul(decimal.NewFromInt(int64(days))).Round()
	if rules.WeeklyMaxAmount.IsPositive() && amount.GreaterThan(rules.WeeklyMaxAmount) {
		amount = rules.WeeklyMaxAmount
	}
	return days, amount
}

func (s *StipendStage) createStipend(ctx context.Context, fund *domain.StrikeFund, memberID string, weekStart, weekEnd time.Time, days int, rules StipendRules) (*domain.StipendDisbursement, error) {
	exists, err := s.store.StipendExists(ctx, fund.TenantID, memberID, fund.ID, weekStart)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateStipend
	}

	days, amount := StipendAmount(rules, days)
	now := s.now().UTC()
	st := &domain.StipendDisbursement{
		ID:               uuid.New().String(),
		TenantID:         fund.TenantID,
		MemberID:         memberID,
		FundID:           fund.ID,
		WeekStart:        weekStart,
		WeekEnd:          weekEnd,
		DaysWorked:       days,
		CalculatedAmount: amount,
		Status:           domain.StipendStatusPendingApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !rules.RequireApproval || amount.LessThan(rules.AutoApproveUnder) {
		st.Status = domain.StipendStatusApproved
		st.ApprovedBy = AutoApprover
		st.ApprovedAt = &now
	}

	if err := s.store.CreateStipend(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Approve moves a pending stipend to approved. Approving an approved
// stipend returns it unchanged.
func (s *StipendStage) Approve(ctx context.Context, tenantID, id, approver string) (*domain.StipendDisbursement, error) {
	if approver == "" {
		return nil, errors.New("approver is required")
	}
	st, err := s.store.GetStipend(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case domain.StipendStatusApproved:
		return st, nil
	case domain.StipendStatusPendingApproval:
	default:
		return nil, fmt.Errorf("%w: stipend %s is %s", domain.ErrInvalidStatus, st.ID, st.Status)
	}

	now := s.now().UTC()
	st.Status = domain.StipendStatusApproved
	st.ApprovedBy = approver
	st.ApprovedAt = &now
	st.UpdatedAt = now
	if err := s.store.UpdateStipend(ctx, st); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		audit := eventbus.NewAuditEvent("audit:stipend:"+st.ID+":approved", domain.AuditEvent{
			TenantID:   tenantID,
			Actor:      approver,
			Action:     "stipend.approved",
			EntityType: "stipend_disbursement",
			EntityID:   st.ID,
			Details:    map[string]interface{}{"amount": st.CalculatedAmount.String(), "member_id": st.MemberID},
			OccurredAt: now,
		})
		if err := s.publisher.Publish(ctx, audit); err != nil {
			s.logger.Warn(ctx, "Failed to publish audit event", "stipend_id", st.ID, "error", err.Error())
		}
	}
	s.logger.Info(ctx, "Stipend approved", "stipend_id", st.ID, "approver", approver)
	return st, nil
}

// DisburseApproved pays every approved stipend. A stipend that cannot be
// paid is marked failed with the reason and is not retried by later runs.
func (s *StipendStage) DisburseApproved(ctx context.Context, tenantID string) (*RunSummary, error) {
	if s.processor == nil {
		return nil, errors.New("no payment processor configured")
	}
	summary := newSummary(StageStipends, tenantID, s.now().UTC())

	approved, err := s.store.ListStipendsByStatus(ctx, tenantID, domain.StipendStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved stipends: %w", err)
	}

	for i := range approved {
		if err := ctx.Err(); err != nil {
			summary.warn("run cancelled after %d of %d disbursements", i, len(approved))
			break
		}
		s.disburse(ctx, &approved[i], summary)
	}

	summary.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "Stipends disbursed",
		"disbursed", summary.Counts["disbursed"],
		"failed", summary.Counts["failed"],
	)
	return summary, nil
}

func (s *StipendStage) disburse(ctx context.Context, st *domain.StipendDisbursement, summary *RunSummary) {
	var result *domain.PaymentResult
	err := retry.Do(ctx, func() error {
		res, err := s.processor.Payout(ctx, domain.PayoutRequest{
			TenantID:       st.TenantID,
			MemberID:       st.MemberID,
			Amount:         st.CalculatedAmount,
			Currency:       s.cfg.Currency,
			Description:    fmt.Sprintf("Strike stipend week of %s", st.WeekStart.Format("2006-01-02")),
			IdempotencyKey: "stipend:" + st.ID,
		})
		if errors.Is(err, payments.ErrDeclined) || errors.Is(err, payments.ErrInvalidAmount) {
			return retry.Permanent(err)
		}
		result = res
		return err
	}, retry.WithMaxAttempts(s.cfg.PayoutRetries), retry.WithBaseDelay(s.cfg.RetryDelay))

	now := s.now().UTC()
	st.UpdatedAt = now
	if err != nil {
		st.Status = domain.StipendStatusFailed
		st.FailureReason = err.Error()
		if uerr := s.store.UpdateStipend(ctx, st); uerr != nil {
			summary.fail("stipend", st.ID, uerr)
			return
		}
		summary.inc("failed")
		summary.fail("stipend", st.ID, fmt.Errorf("payout failed: %w", err))
		s.notify(ctx, st, summary)
		return
	}

	st.Status = domain.StipendStatusDisbursed
	st.PaymentReference = result.Reference
	st.DisbursedAt = &now
	if err := s.store.UpdateStipend(ctx, st); err != nil {
		summary.fail("stipend", st.ID, err)
		return
	}
	summary.inc("disbursed")
	summary.add("disbursed", st.CalculatedAmount)

	if err := s.store.AdjustFundBalance(ctx, st.TenantID, st.FundID, st.CalculatedAmount.Neg()); err != nil {
		summary.fail("strike_fund", st.FundID, err)
	}
	if s.poster != nil {
		if _, err := s.poster.RecordStrikeFundWithdrawal(ctx, ledger.Posting{
			TenantID:  st.TenantID,
			Reference: st.ID,
			Amount:    st.CalculatedAmount,
			Date:      now,
			MemberID:  st.MemberID,
		}); err != nil {
			summary.fail("journal_entry", st.ID, err)
		} else {
			summary.inc("journal_entries")
		}
	}
	s.notify(ctx, st, summary)
}

func (s *StipendStage) notify(ctx context.Context, st *domain.StipendDisbursement, summary *RunSummary) {
	data := map[string]string{
		"stipend_id": st.ID,
		"fund_id":    st.FundID,
		"week_start": st.WeekStart.Format("2006-01-02"),
		"days":       fmt.Sprintf("%d", st.DaysWorked),
		"amount":     st.CalculatedAmount.String(),
		"status":     string(st.Status),
	}
	if st.PaymentReference != "" {
		data["payment_reference"] = st.PaymentReference
	}
	n := domain.Notification{
		ID:       fmt.Sprintf("stipend:%s:%s", st.ID, st.Status),
		TenantID: st.TenantID,
		MemberID: st.MemberID,
		Kind:     domain.NotificationStipend,
		Subject:  "Strike stipend " + stipendStatusText(st.Status),
		Data:     data,
	}
	publish(ctx, s.publisher, eventbus.NewNotificationEvent(n, s.now().UTC()), summary)
}

func stipendStatusText(status domain.StipendStatus) string {
	switch status {
	case domain.StipendStatusApproved:
		return "approved"
	case domain.StipendStatusDisbursed:
		return "paid"
	case domain.StipendStatusFailed:
		return "payment failed"
	default:
		return "awaiting approval"
	}
}
