package domain

import (
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type PaymentStatus string

const (
	PaymentStatusReceived  PaymentStatus = "received"
	PaymentStatusApplied   PaymentStatus = "applied"
	PaymentStatusUnmatched PaymentStatus = "unmatched"
)

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodACH    PaymentMethod = "ach"
	PaymentMethodCheque PaymentMethod = "cheque"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodEFT    PaymentMethod = "eft"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodACH, PaymentMethodCheque, PaymentMethodCash, PaymentMethodEFT:
		return true
	}
	return false
}

// Payment is money received from a member, waiting to be applied.
type Payment struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	MemberID        string        `json:"member_id"`
	Amount          money.Money   `json:"amount"`
	Method          PaymentMethod `json:"method"`
	Reference       string        `json:"reference,omitempty"`
	ReceivedAt      time.Time     `json:"received_at"`
	Status          PaymentStatus `json:"status"`
	AppliedAmount   money.Money   `json:"applied_amount"`
	UnappliedAmount money.Money   `json:"unapplied_amount"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	// JournalEntryID is set once the collected amount is posted to the
	// ledger.
	JournalEntryID  string        `json:"journal_entry_id,omitempty"`
}

type PaymentAllocation struct {
	PaymentID     string      `json:"payment_id"`
	TransactionID string      `json:"transaction_id"`
	Amount        money.Money `json:"amount"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TransactionVersion is the state of a dues transaction when it was read
// for allocation.
type TransactionVersion struct {
	ID          string
	Status      TransactionStatus
	TotalAmount money.Money
	PaidAmount  money.Money
	UpdatedAt   time.Time
}

func VersionOf(tx DuesTransaction) TransactionVersion {
	return TransactionVersion{
		ID:          tx.ID,
		Status:      tx.Status,
		TotalAmount: tx.TotalAmount,
		PaidAmount:  tx.PaidAmount,
		UpdatedAt:   tx.UpdatedAt,
	}
}

// Matches reports whether tx is unchanged since v was taken.
func (v TransactionVersion) Matches(tx DuesTransaction) bool {
	return tx.ID == v.ID &&
		tx.Status == v.Status &&
		tx.TotalAmount.Equal(v.TotalAmount) &&
		tx.PaidAmount.Equal(v.PaidAmount) &&
		tx.UpdatedAt.Equal(v.UpdatedAt)
}

// PaymentSettlement is written atomically and only while the payment is
// still in the received status. It fails with ErrStaleState when any
// transaction in Read, or the arrears record, changed after it was read.
type PaymentSettlement struct {
	Payment      Payment
	Allocations  []PaymentAllocation
	Transactions []DuesTransaction
	Read         []TransactionVersion

	// Arrears is the member's updated arrears record, if any.
	// ArrearsReadAt is its UpdatedAt when it was read.
	Arrears       *Arrears
	ArrearsReadAt time.Time
}
