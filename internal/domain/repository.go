package domain

import (
	"context"
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type DuesStore interface {
	// Rules and assignments
	SaveDuesRule(ctx context.Context, rule *DuesRule) error
	GetDuesRule(ctx context.Context, tenantID, ruleID string) (*DuesRule, error)
	SaveAssignment(ctx context.Context, assignment *DuesAssignment) error
	ListActiveAssignments(ctx context.Context, tenantID string, asOf time.Time) ([]DuesAssignment, error)

	// Transactions
	CreateDuesTransaction(ctx context.Context, tx *DuesTransaction) error
	GetDuesTransaction(ctx context.Context, tenantID, id string) (*DuesTransaction, error)
	TransactionExistsForPeriod(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (bool, error)
	ListDuesTransactions(ctx context.Context, filter TransactionFilter) ([]DuesTransaction, error)
	// ListPendingPastDue is ordered by due date, then member, then ID.
	ListPendingPastDue(ctx context.Context, tenantID string, asOf time.Time) ([]DuesTransaction, error)
	// ListOutstanding returns pending and overdue transactions ordered by
	// due date, then period start, then ID.
	ListOutstanding(ctx context.Context, tenantID, memberID string) ([]DuesTransaction, error)
	// MarkOverdue fails with ErrStaleState unless the transaction is pending.
	MarkOverdue(ctx context.Context, tenantID, id string, lateFee money.Money, at time.Time) (*DuesTransaction, error)
}

type ArrearsStore interface {
	GetActiveArrears(ctx context.Context, tenantID, memberID string) (*Arrears, error)
	ListActiveArrears(ctx context.Context, tenantID string) ([]Arrears, error)
	CreateArrears(ctx context.Context, arrears *Arrears) error
	UpdateArrears(ctx context.Context, arrears *Arrears) error
}

type PaymentStore interface {
	// CreatePayment fails with ErrDuplicatePayment when the tenant already
	// has a payment with the same ID.
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, tenantID, id string) (*Payment, error)
	// ListReceivedPayments is ordered by received time, then ID.
	ListReceivedPayments(ctx context.Context, tenantID string) ([]Payment, error)
	// SettlePayment fails with ErrPaymentAlreadyProcessed unless the stored
	// payment is still received.
	SettlePayment(ctx context.Context, settlement PaymentSettlement) error
	ListAllocations(ctx context.Context, tenantID, paymentID string) ([]PaymentAllocation, error)
	// ListUnpostedPayments returns applied payments with no journal entry.
	ListUnpostedPayments(ctx context.Context, tenantID string) ([]Payment, error)
	MarkPaymentPosted(ctx context.Context, tenantID, id, entryID string) error
}

type StipendStore interface {
	// Funds and attendance
	SaveStrikeFund(ctx context.Context, fund *StrikeFund) error
	GetStrikeFund(ctx context.Context, tenantID, fundID string) (*StrikeFund, error)
	ListActiveStrikeFunds(ctx context.Context, tenantID string) ([]StrikeFund, error)
	AdjustFundBalance(ctx context.Context, tenantID, fundID string, delta money.Money) error
	RecordAttendance(ctx context.Context, attendance *PicketAttendance) error
	// ListApprovedAttendance includes both bounds.
	ListApprovedAttendance(ctx context.Context, tenantID, fundID string, from, to time.Time) ([]PicketAttendance, error)

	// Disbursements
	StipendExists(ctx context.Context, tenantID, memberID, fundID string, weekStart time.Time) (bool, error)
	CreateStipend(ctx context.Context, stipend *StipendDisbursement) error
	GetStipend(ctx context.Context, tenantID, id string) (*StipendDisbursement, error)
	ListStipendsByStatus(ctx context.Context, tenantID string, status StipendStatus) ([]StipendDisbursement, error)
	UpdateStipend(ctx context.Context, stipend *StipendDisbursement) error
}

type JournalStore interface {
	SaveJournalEntry(ctx context.Context, entry *JournalEntry) error
	GetJournalEntry(ctx context.Context, tenantID, id string) (*JournalEntry, error)
	FindJournalEntryByNumber(ctx context.Context, tenantID, entryNumber string) (*JournalEntry, error)
	UpdateJournalEntry(ctx context.Context, entry *JournalEntry) error
}

type RemittanceStore interface {
	SaveRemittance(ctx context.Context, remittance *Remittance) error
	GetRemittance(ctx context.Context, tenantID, id string) (*Remittance, error)
	// GetWageData sums stored remittance lines for the member over periods
	// overlapping the given range. ErrRemittanceNotFound when there are none.
	GetWageData(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (*WageData, error)
}

type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

type Repository interface {
	DuesStore
	ArrearsStore
	PaymentStore
	StipendStore
	JournalStore
	RemittanceStore
	EventStore
}
