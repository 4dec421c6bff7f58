package reconcile

import (
	"fmt"

	"github.com/grachmannico95/dues-ledger/internal/banking"
	"github.com/grachmannico95/dues-ledger/internal/domain"
)

// FromRemittance converts parsed remittance rows into source records dated
// at the end of their billing period.
func FromRemittance(records []domain.RemittanceRecord) []SourceRecord {
	out := make([]SourceRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, SourceRecord{
			ID:          fmt.Sprintf("line-%d", rec.RawLineNumber),
			MemberRef:   rec.MemberRef(),
			Amount:      rec.DuesAmount,
			Date:        domain.DateOf(rec.BillingPeriodEnd),
			Description: NormalizeMemberID(rec.MemberRef()),
		})
	}
	return out
}

// FromBankTransactions keeps deposits only; withdrawals never settle dues.
func FromBankTransactions(txns []banking.Transaction) []SourceRecord {
	out := make([]SourceRecord, 0, len(txns))
	for _, tx := range txns {
		if tx.Type != banking.TransactionCredit {
			continue
		}
		out = append(out, SourceRecord{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Date:        domain.DateOf(tx.Date),
			Description: tx.Description,
		})
	}
	return out
}

// LedgerDate selects which date of a dues transaction is compared.
type LedgerDate int

const (
	ByPeriodEnd LedgerDate = iota
	ByPaidDate
)

// FromDuesTransactions converts dues transactions to the ledger side.
// With ByPaidDate, unpaid transactions are left out.
func FromDuesTransactions(txs []domain.DuesTransaction, by LedgerDate) []LedgerTransaction {
	out := make([]LedgerTransaction, 0, len(txs))
	for _, tx := range txs {
		date := tx.PeriodEnd
		if by == ByPaidDate {
			if tx.PaidDate == nil {
				continue
			}
			date = *tx.PaidDate
		}
		out = append(out, LedgerTransaction{
			ID:          tx.ID,
			MemberID:    tx.MemberID,
			Amount:      tx.TotalAmount,
			Date:        domain.DateOf(date),
			Description: NormalizeMemberID(tx.MemberID),
		})
	}
	return out
}
