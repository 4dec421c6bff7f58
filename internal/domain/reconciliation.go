package domain

import "github.com/grachmannico95/dues-ledger/pkg/money"

type MatchType string

const (
	MatchTypeExact MatchType = "exact"
	MatchTypeFuzzy MatchType = "fuzzy"
)

// ReconciliationMatch pairs an external record with a ledger transaction.
// Fuzzy matches need a human to confirm them before anything is posted.
type ReconciliationMatch struct {
	SourceRecordID      string      `json:"source_record_id"`
	LedgerTransactionID string      `json:"ledger_transaction_id"`
	MatchType           MatchType   `json:"match_type"`
	MatchScore          int         `json:"match_score"`
	IsConfirmed         bool        `json:"is_confirmed"`
	AmountVariance      money.Money `json:"amount_variance"`
}
