package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentDay = time.Date(2025, time.April, 2, 4, 0, 0, 0, time.UTC)

func newPaymentStage(t *testing.T) (*PaymentStage, *storage.MemoryStore, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	poster := ledger.NewService(store, nil, ledger.DefaultConfig(), logger.NewNop())
	stage := NewPaymentStage(store, poster, pub, logger.NewNop())
	stage.now = clock(paymentDay)
	return stage, store, pub
}

func receive(t *testing.T, store *storage.MemoryStore, id, memberID string, amount string) {
	t.Helper()
	require.NoError(t, store.CreatePayment(context.Background(), &domain.Payment{
		ID: id, TenantID: "t1", MemberID: memberID, Amount: money.MustParse(amount),
		Method: domain.PaymentMethodACH, ReceivedAt: paymentDay.Add(-time.Hour), Status: domain.PaymentStatusReceived,
	}))
}

func activeArrears(t *testing.T, store *storage.MemoryStore, memberID string, owed int64) {
	t.Helper()
	require.NoError(t, store.CreateArrears(context.Background(), &domain.Arrears{
		ID: "arr-" + memberID, TenantID: "t1", MemberID: memberID, TotalOwed: money.FromInt(owed),
		OldestDebtDate: domain.NewDate(2025, 2, 15), Status: domain.ArrearsStatusActive,
		NotificationStage: domain.StageWarning,
	}))
}

func TestAllocate_OldestFirst(t *testing.T) {
	payment := &domain.Payment{ID: "p1", Amount: money.FromInt(70)}
	txs := []domain.DuesTransaction{
		*monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusOverdue),
		*monthlyTx("feb", "M1", time.February, 50, domain.TransactionStatusPending),
		*monthlyTx("mar", "M1", time.March, 50, domain.TransactionStatusPending),
	}

	updated, allocations, remaining := Allocate(payment, txs, paymentDay)
	assert.True(t, remaining.IsZero())
	require.Len(t, updated, 2)
	require.Len(t, allocations, 2)

	assert.Equal(t, domain.TransactionStatusPaid, updated[0].Status)
	assert.NotNil(t, updated[0].PaidDate)
	assert.Equal(t, "50.00", allocations[0].Amount.String())

	assert.Equal(t, domain.TransactionStatusPending, updated[1].Status)
	assert.Equal(t, "20.00", updated[1].PaidAmount.String())
	assert.Nil(t, updated[1].PaidDate)
	assert.Equal(t, "20.00", allocations[1].Amount.String())

	assert.Equal(t, "0.00", txs[1].PaidAmount.String())
}

func TestAllocate_Overpayment(t *testing.T) {
	payment := &domain.Payment{ID: "p1", Amount: money.FromInt(80)}
	txs := []domain.DuesTransaction{*monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)}

	_, allocations, remaining := Allocate(payment, txs, paymentDay)
	require.Len(t, allocations, 1)
	assert.Equal(t, "30.00", remaining.String())
}

func TestProcessPayments_FIFOAndPartialArrears(t *testing.T) {
	stage, store, pub := newPaymentStage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusOverdue)))
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("feb", "M1", time.February, 50, domain.TransactionStatusOverdue)))
	activeArrears(t, store, "M1", 100)
	receive(t, store, "p1", "M1", "60")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 1, summary.Counts["applied"])
	assert.Equal(t, 1, summary.Counts["transactions_paid"])
	assert.Equal(t, 1, summary.Counts["arrears_reduced"])
	assert.Equal(t, 1, summary.Counts["journal_entries"])

	jan, err := store.GetDuesTransaction(ctx, "t1", "jan")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPaid, jan.Status)

	feb, err := store.GetDuesTransaction(ctx, "t1", "feb")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusOverdue, feb.Status)
	assert.Equal(t, "40.00", feb.Outstanding().String())

	arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", arrears.TotalOwed.String())
	assert.Equal(t, domain.NewDate(2025, 3, 15), arrears.OldestDebtDate)

	payment, err := store.GetPayment(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApplied, payment.Status)
	assert.Equal(t, "60.00", payment.AppliedAmount.String())
	assert.NotNil(t, payment.ProcessedAt)

	allocations, err := store.ListAllocations(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Len(t, allocations, 2)

	entry, err := store.FindJournalEntryByNumber(ctx, "t1", "DUES-p1")
	require.NoError(t, err)
	assert.Equal(t, "60.00", entry.TotalDebits.String())

	notes := pub.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "receipt:p1", notes[0].ID)

	receive(t, store, "p2", "M1", "40")
	summary, err = stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["arrears_resolved"])

	_, err = store.GetActiveArrears(ctx, "t1", "M1")
	assert.ErrorIs(t, err, domain.ErrArrearsNotFound)
}

func TestProcessPayments_PendingOnlyLeavesNoArrears(t *testing.T) {
	stage, store, _ := newPaymentStage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("mar", "M1", time.March, 50, domain.TransactionStatusPending)))
	receive(t, store, "p1", "M1", "50")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["transactions_paid"])
	assert.Equal(t, 0, summary.Counts["arrears_resolved"])
}

func TestProcessPayments_Unmatched(t *testing.T) {
	stage, store, pub := newPaymentStage(t)
	ctx := context.Background()
	receive(t, store, "p1", "M9", "25")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["unmatched"])
	assert.Equal(t, "25.00", summary.Amounts["unmatched"].String())
	assert.Empty(t, pub.events)

	payment, err := store.GetPayment(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusUnmatched, payment.Status)
	assert.Equal(t, "25.00", payment.UnappliedAmount.String())

	_, err = store.FindJournalEntryByNumber(ctx, "t1", "DUES-p1")
	assert.ErrorIs(t, err, domain.ErrJournalEntryNotFound)
}

func TestProcessPayments_RerunDoesNotReapply(t *testing.T) {
	stage, store, _ := newPaymentStage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusOverdue)))
	receive(t, store, "p1", "M1", "20")

	_, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["received"])

	jan, err := store.GetDuesTransaction(ctx, "t1", "jan")
	require.NoError(t, err)
	assert.Equal(t, "20.00", jan.PaidAmount.String())
}

// racingStore changes the member's dues between allocation and settlement
// for the first races settlements, the way a concurrent arrears run would.
type racingStore struct {
	*storage.MemoryStore
	races int
	calls int
}

func (s *racingStore) SettlePayment(ctx context.Context, settlement domain.PaymentSettlement) error {
	s.calls++
	if s.calls > s.races {
		return s.MemoryStore.SettlePayment(ctx, settlement)
	}
	for _, v := range settlement.Read {
		if v.Status != domain.TransactionStatusPending {
			return domain.ErrStaleState
		}
		if _, err := s.MarkOverdue(ctx, settlement.Payment.TenantID, v.ID, money.FromInt(5), paymentDay); err != nil {
			return err
		}
	}
	return s.MemoryStore.SettlePayment(ctx, settlement)
}

func TestProcessPayments_ReallocatesWhenDuesChange(t *testing.T) {
	store := &racingStore{MemoryStore: storage.NewMemoryStore(), races: 1}
	stage := NewPaymentStage(store, nil, nil, logger.NewNop())
	stage.now = clock(paymentDay)
	ctx := context.Background()

	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))
	receive(t, store.MemoryStore, "p1", "M1", "20")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["applied"])
	assert.Equal(t, 2, store.calls)

	jan, err := store.GetDuesTransaction(ctx, "t1", "jan")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusOverdue, jan.Status)
	assert.Equal(t, "55.00", jan.TotalAmount.String())
	assert.Equal(t, "20.00", jan.PaidAmount.String())
}

func TestProcessPayments_DefersWhenDuesKeepChanging(t *testing.T) {
	store := &racingStore{MemoryStore: storage.NewMemoryStore(), races: settleAttempts}
	stage := NewPaymentStage(store, nil, nil, logger.NewNop())
	stage.now = clock(paymentDay)
	ctx := context.Background()

	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))
	receive(t, store.MemoryStore, "p1", "M1", "20")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["deferred"])
	assert.Equal(t, 0, summary.Counts["applied"])
	assert.Len(t, summary.Warnings, 1)

	payment, err := store.GetPayment(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusReceived, payment.Status)

	summary, err = stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["applied"])
}

type flakyPoster struct {
	DuesPaymentPoster
	failures int
}

func (p *flakyPoster) RecordDuesPayment(ctx context.Context, posting ledger.Posting, method domain.PaymentMethod) (*domain.JournalEntry, error) {
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("ledger unavailable")
	}
	return p.DuesPaymentPoster.RecordDuesPayment(ctx, posting, method)
}

func TestProcessPayments_RetriesFailedLedgerPost(t *testing.T) {
	store := storage.NewMemoryStore()
	poster := &flakyPoster{
		DuesPaymentPoster: ledger.NewService(store, nil, ledger.DefaultConfig(), logger.NewNop()),
		failures:          1,
	}
	stage := NewPaymentStage(store, poster, nil, logger.NewNop())
	stage.now = clock(paymentDay)
	ctx := context.Background()

	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusOverdue)))
	receive(t, store, "p1", "M1", "50")

	summary, err := stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["applied"])
	assert.Equal(t, 0, summary.Counts["journal_entries"])
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "journal_entry", summary.Errors[0].EntityType)

	_, err = store.FindJournalEntryByNumber(ctx, "t1", "DUES-p1")
	assert.ErrorIs(t, err, domain.ErrJournalEntryNotFound)

	summary, err = stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 0, summary.Counts["received"])
	assert.Equal(t, 1, summary.Counts["journal_entries"])

	entry, err := store.FindJournalEntryByNumber(ctx, "t1", "DUES-p1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", entry.TotalDebits.String())

	payment, err := store.GetPayment(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, payment.JournalEntryID)

	summary, err = stage.ProcessPayments(ctx, PaymentParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["journal_entries"])
}
