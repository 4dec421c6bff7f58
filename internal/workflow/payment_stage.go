package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type PaymentStageStore interface {
	domain.DuesStore
	domain.ArrearsStore
	domain.PaymentStore
}

// DuesPaymentPoster records collected dues in the general ledger.
type DuesPaymentPoster interface {
	RecordDuesPayment(ctx context.Context, p ledger.Posting, method domain.PaymentMethod) (*domain.JournalEntry, error)
}

type PaymentParams struct {
	TenantID string
}

// PaymentStage applies received payments to outstanding dues, oldest due
// date first.
type PaymentStage struct {
	store     PaymentStageStore
	poster    DuesPaymentPoster
	publisher eventbus.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewPaymentStage accepts a nil poster and a nil publisher.
func NewPaymentStage(store PaymentStageStore, poster DuesPaymentPoster, publisher eventbus.Publisher, log *logger.Logger) *PaymentStage {
	return &PaymentStage{store: store, poster: poster, publisher: publisher, logger: log, now: time.Now}
}

func (s *PaymentStage) Name() string { return StagePayments }

func (s *PaymentStage) Cadence() string { return "0 4 * * *" }

func (s *PaymentStage) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	return s.ProcessPayments(ctx, PaymentParams{TenantID: tenantID})
}

func (s *PaymentStage) ProcessPayments(ctx context.Context, params PaymentParams) (*RunSummary, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	summary := newSummary(StagePayments, params.TenantID, s.now().UTC())

	if err := s.postPending(ctx, params.TenantID, summary); err != nil {
		return nil, err
	}

	payments, err := s.store.ListReceivedPayments(ctx, params.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list received payments: %w", err)
	}
	summary.Counts["received"] = len(payments)

	for i := range payments {
		if err := ctx.Err(); err != nil {
			summary.warn("run cancelled after %d of %d payments", i, len(payments))
			break
		}
		s.applyPayment(ctx, &payments[i], summary)
	}

	summary.FinishedAt = s.now().UTC()
	s.logger.Info(ctx, "Payments processed",
		"applied", summary.Counts["applied"],
		"unmatched", summary.Counts["unmatched"],
		"transactions_paid", summary.Counts["transactions_paid"],
		"failed", len(summary.Errors),
	)
	return summary, nil
}

// Allocate spreads amount over txs in order, paying each in full before
// the next. It returns the updated transactions, the allocations and the
// unallocated remainder.
func Allocate(payment *domain.Payment, txs []domain.DuesTransaction, at time.Time) ([]domain.DuesTransaction, []domain.PaymentAllocation, money.Money) {
	remaining := payment.Amount
	var (
		updated     []domain.DuesTransaction
		allocations []domain.PaymentAllocation
	)
	for _, tx := range txs {
		if !remaining.IsPositive() {
			break
		}
		due := tx.Outstanding()
		if !due.IsPositive() {
			continue
		}
		applied := money.Min(remaining, due)

		tx.PaidAmount = tx.PaidAmount.Add(applied)
		tx.UpdatedAt = at
		if !tx.Outstanding().IsPositive() {
			paidAt := at
			tx.Status = domain.TransactionStatusPaid
			tx.PaidDate = &paidAt
		}
		remaining = remaining.Sub(applied)

		updated = append(updated, tx)
		allocations = append(allocations, domain.PaymentAllocation{
			PaymentID:     payment.ID,
			TransactionID: tx.ID,
			Amount:        applied,
			CreatedAt:     at,
		})
	}
	return updated, allocations, remaining
}

// settleAttempts bounds how often a payment is re-read and re-allocated
// when its dues change underneath it. A payment still stale after that
// stays received for the next run.
const settleAttempts = 3

type settlement struct {
	payment   domain.Payment
	txs       []domain.DuesTransaction
	remaining money.Money
	arrears   *domain.Arrears
}

func (s *PaymentStage) applyPayment(ctx context.Context, p *domain.Payment, summary *RunSummary) {
	var (
		out *settlement
		err error
	)
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		out, err = s.settle(ctx, p)
		if !errors.Is(err, domain.ErrStaleState) {
			break
		}
		s.logger.Debug(ctx, "Dues changed during settlement, retrying", "payment_id", p.ID, "attempt", attempt)
	}

	switch {
	case errors.Is(err, domain.ErrPaymentAlreadyProcessed):
		summary.inc("skipped")
		return
	case errors.Is(err, domain.ErrStaleState):
		summary.inc("deferred")
		summary.warn("payment %s left received, dues kept changing during settlement", p.ID)
		return
	case err != nil:
		summary.fail("payment", p.ID, err)
		return
	}

	settled := &out.payment
	if settled.Status == domain.PaymentStatusUnmatched {
		summary.inc("unmatched")
		summary.add("unmatched", p.Amount)
		s.logger.Info(ctx, "Payment has no outstanding dues", "payment_id", p.ID, "member_id", p.MemberID)
		return
	}

	summary.inc("applied")
	summary.add("applied", settled.AppliedAmount)
	for _, tx := range out.txs {
		if tx.Status == domain.TransactionStatusPaid {
			summary.inc("transactions_paid")
		}
	}
	if out.remaining.IsPositive() {
		summary.add("unapplied", out.remaining)
	}
	if out.arrears != nil {
		if out.arrears.Status == domain.ArrearsStatusResolved {
			summary.inc("arrears_resolved")
		} else {
			summary.inc("arrears_reduced")
		}
	}

	s.sendReceipt(ctx, settled, summary)
	s.post(ctx, settled, summary)
}

// settle allocates p over the member's outstanding dues and writes the
// result, including the arrears balance, in one store call.
func (s *PaymentStage) settle(ctx context.Context, p *domain.Payment) (*settlement, error) {
	outstanding, err := s.store.ListOutstanding(ctx, p.TenantID, p.MemberID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := &settlement{payment: *p, remaining: p.Amount}
	out.payment.ProcessedAt = &now

	if len(outstanding) == 0 {
		out.payment.Status = domain.PaymentStatusUnmatched
		out.payment.AppliedAmount = money.Zero
		out.payment.UnappliedAmount = p.Amount
		return out, s.store.SettlePayment(ctx, domain.PaymentSettlement{Payment: out.payment})
	}

	read := make([]domain.TransactionVersion, len(outstanding))
	for i, tx := range outstanding {
		read[i] = domain.VersionOf(tx)
	}

	txs, allocations, remaining := Allocate(p, outstanding, now)
	out.txs = txs
	out.remaining = remaining
	out.payment.Status = domain.PaymentStatusApplied
	out.payment.AppliedAmount = p.Amount.Sub(remaining)
	out.payment.UnappliedAmount = remaining

	arrears, err := s.store.GetActiveArrears(ctx, p.TenantID, p.MemberID)
	switch {
	case errors.Is(err, domain.ErrArrearsNotFound):
		arrears = nil
	case err != nil:
		return nil, err
	}

	var readAt time.Time
	if arrears != nil {
		readAt = arrears.UpdatedAt
		settleArrears(arrears, outstanding, txs, now)
		out.arrears = arrears
	}

	err = s.store.SettlePayment(ctx, domain.PaymentSettlement{
		Payment:       out.payment,
		Allocations:   allocations,
		Transactions:  txs,
		Read:          read,
		Arrears:       arrears,
		ArrearsReadAt: readAt,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// settleArrears resolves the arrears once nothing overdue is left after the
// allocation, otherwise it recalculates the balance.
func settleArrears(arrears *domain.Arrears, outstanding, updated []domain.DuesTransaction, now time.Time) {
	after := make(map[string]domain.DuesTransaction, len(updated))
	for _, tx := range updated {
		after[tx.ID] = tx
	}

	owed := money.Zero
	var oldest time.Time
	for _, tx := range outstanding {
		if u, ok := after[tx.ID]; ok {
			tx = u
		}
		if tx.Status != domain.TransactionStatusOverdue || !tx.Outstanding().IsPositive() {
			continue
		}
		owed = owed.Add(tx.Outstanding())
		if due := domain.DateOf(tx.DueDate); oldest.IsZero() || due.Before(oldest) {
			oldest = due
		}
	}

	arrears.UpdatedAt = now
	if owed.IsPositive() {
		arrears.TotalOwed = owed
		arrears.OldestDebtDate = oldest
		return
	}
	arrears.TotalOwed = money.Zero
	arrears.Status = domain.ArrearsStatusResolved
	arrears.ResolvedAt = &now
}

func (s *PaymentStage) sendReceipt(ctx context.Context, p *domain.Payment, summary *RunSummary) {
	n := domain.Notification{
		ID:       "receipt:" + p.ID,
		TenantID: p.TenantID,
		MemberID: p.MemberID,
		Kind:     domain.NotificationReceipt,
		Subject:  "Payment received",
		Data: map[string]string{
			"payment_id": p.ID,
			"amount":     p.Amount.String(),
			"applied":    p.AppliedAmount.String(),
			"unapplied":  p.UnappliedAmount.String(),
			"method":     string(p.Method),
		},
	}
	publish(ctx, s.publisher, eventbus.NewNotificationEvent(n, s.now().UTC()), summary)
}

// post records the applied amount in the ledger and marks the payment
// posted. A payment whose post fails is picked up by the next run.
func (s *PaymentStage) post(ctx context.Context, p *domain.Payment, summary *RunSummary) {
	if s.poster == nil || !p.AppliedAmount.IsPositive() {
		return
	}
	entry, err := s.poster.RecordDuesPayment(ctx, ledger.Posting{
		TenantID:  p.TenantID,
		Reference: p.ID,
		Amount:    p.AppliedAmount,
		Date:      p.ReceivedAt,
		MemberID:  p.MemberID,
	}, p.Method)
	if err != nil {
		summary.fail("journal_entry", p.ID, err)
		return
	}
	if err := s.store.MarkPaymentPosted(ctx, p.TenantID, p.ID, entry.ID); err != nil {
		summary.fail("journal_entry", p.ID, err)
		return
	}
	summary.inc("journal_entries")
}

// postPending retries ledger posts for payments settled by earlier runs.
func (s *PaymentStage) postPending(ctx context.Context, tenantID string, summary *RunSummary) error {
	if s.poster == nil {
		return nil
	}
	unposted, err := s.store.ListUnpostedPayments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list unposted payments: %w", err)
	}
	for i := range unposted {
		if ctx.Err() != nil {
			return nil
		}
		s.post(ctx, &unposted[i], summary)
	}
	if len(unposted) > 0 {
		s.logger.Info(ctx, "Retried pending ledger posts", "payments", len(unposted))
	}
	return nil
}
