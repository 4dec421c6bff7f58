package domain

import (
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type JournalStatus string

const (
	JournalStatusPosted   JournalStatus = "posted"
	JournalStatusReversed JournalStatus = "reversed"
)

type SyncStatus string

const (
	SyncStatusNotSynced SyncStatus = "not_synced"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusFailed    SyncStatus = "failed"
)

// JournalLine carries exactly one of DebitAmount or CreditAmount.
type JournalLine struct {
	AccountID    string      `json:"account_id"`
	Description  string      `json:"description,omitempty"`
	DebitAmount  money.Money `json:"debit_amount"`
	CreditAmount money.Money `json:"credit_amount"`
}

// JournalEntry is never edited after posting. A reversal is a new entry whose
// ReversalEntryID points at the entry it cancels.
type JournalEntry struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	EntryNumber     string        `json:"entry_number"`
	EntryDate       time.Time     `json:"entry_date"`
	Description     string        `json:"description"`
	Reference       string        `json:"reference,omitempty"`
	Currency        string        `json:"currency"`
	Lines           []JournalLine `json:"lines"`
	Status          JournalStatus `json:"status"`
	TotalDebits     money.Money   `json:"total_debits"`
	TotalCredits    money.Money   `json:"total_credits"`
	ReversalEntryID string        `json:"reversal_entry_id,omitempty"`
	ReversedByID    string        `json:"reversed_by_id,omitempty"`
	ExternalID      string        `json:"external_id,omitempty"`
	SyncStatus      SyncStatus    `json:"sync_status"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (e JournalEntry) Totals() (money.Money, money.Money) {
	debits, credits := money.Zero, money.Zero
	for _, line := range e.Lines {
		debits = debits.Add(line.DebitAmount)
		credits = credits.Add(line.CreditAmount)
	}
	return debits, credits
}
