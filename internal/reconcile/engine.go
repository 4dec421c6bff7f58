// Package reconcile matches external records (remittance lines, bank
// deposits) against ledger transactions.
//
// Matching is deterministic: sources are visited in input order, an exact
// match takes the first qualifying ledger transaction, and fuzzy candidates
// are stable-sorted so equal scores keep input order. Each ledger
// transaction is matched at most once.
package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

// SourceRecord is the external side of a reconciliation.
type SourceRecord struct {
	ID          string      `json:"id"`
	MemberRef   string      `json:"member_ref,omitempty"`
	Amount      money.Money `json:"amount"`
	Date        time.Time   `json:"date"`
	Description string      `json:"description"`
}

// LedgerTransaction is the internal side of a reconciliation.
type LedgerTransaction struct {
	ID          string      `json:"id"`
	MemberID    string      `json:"member_id,omitempty"`
	Amount      money.Money `json:"amount"`
	Date        time.Time   `json:"date"`
	Description string      `json:"description"`
}

type VarianceType string

const (
	VarianceUnmatchedSource    VarianceType = "unmatched_source"
	VarianceMissingTransaction VarianceType = "missing_transaction"
	VarianceOverpayment        VarianceType = "overpayment"
	VarianceUnderpayment       VarianceType = "underpayment"
)

type Variance struct {
	Type                VarianceType    `json:"type"`
	SourceRecordID      string          `json:"source_record_id,omitempty"`
	LedgerTransactionID string          `json:"ledger_transaction_id,omitempty"`
	MemberRef           string          `json:"member_ref,omitempty"`
	Expected            money.Money     `json:"expected"`
	Actual              money.Money     `json:"actual"`
	Difference          money.Money     `json:"difference"`
	Percentage          decimal.Decimal `json:"percentage"`
	Description         string          `json:"description"`
}

type Summary struct {
	SourceCount          int             `json:"source_count"`
	LedgerCount          int             `json:"ledger_count"`
	TotalSourceAmount    money.Money     `json:"total_source_amount"`
	TotalLedgerAmount    money.Money     `json:"total_ledger_amount"`
	NetVariance          money.Money     `json:"net_variance"`
	MatchedCount         int             `json:"matched_count"`
	ExactMatches         int             `json:"exact_matches"`
	FuzzyMatches         int             `json:"fuzzy_matches"`
	UnmatchedSourceCount int             `json:"unmatched_source_count"`
	UnmatchedLedgerCount int             `json:"unmatched_ledger_count"`
	VarianceCount        int             `json:"variance_count"`
	AutoMatchRate        decimal.Decimal `json:"auto_match_rate"`
}

type Result struct {
	ID               string                       `json:"id"`
	GeneratedAt      time.Time                    `json:"generated_at"`
	Matches          []domain.ReconciliationMatch `json:"matches"`
	Variances        []Variance                   `json:"variances"`
	UnmatchedSources []SourceRecord               `json:"unmatched_sources"`
	UnmatchedLedger  []LedgerTransaction          `json:"unmatched_ledger"`
	Summary          Summary                      `json:"summary"`
}

type Config struct {
	// AmountTolerance is the exclusive bound under which amounts are equal.
	AmountTolerance money.Money
	ExactDateWindow int
	FuzzyThreshold  int
	MatchMemberRefs bool
}

func DefaultConfig() Config {
	return Config{
		AmountTolerance: money.FromCents(1),
		ExactDateWindow: 7,
		FuzzyThreshold:  70,
		MatchMemberRefs: true,
	}
}

type Engine struct {
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

func NewEngine(cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

type candidate struct {
	index int
	score int
}

func (e *Engine) Reconcile(ctx context.Context, sources []SourceRecord, ledger []LedgerTransaction) *Result {
	result := &Result{
		ID:               uuid.New().String(),
		GeneratedAt:      e.now().UTC(),
		Matches:          []domain.ReconciliationMatch{},
		Variances:        []Variance{},
		UnmatchedSources: []SourceRecord{},
		UnmatchedLedger:  []LedgerTransaction{},
	}

	used := make([]bool, len(ledger))

	for _, src := range sources {
		idx, matchType, score := e.findMatch(src, ledger, used)
		if idx < 0 {
			result.UnmatchedSources = append(result.UnmatchedSources, src)
			result.Variances = append(result.Variances, Variance{
				Type:           VarianceUnmatchedSource,
				SourceRecordID: src.ID,
				MemberRef:      src.MemberRef,
				Actual:         src.Amount,
				Difference:     src.Amount,
				Description:    "no ledger transaction matches this record",
			})
			continue
		}

		used[idx] = true
		tx := ledger[idx]
		diff := src.Amount.Sub(tx.Amount)

		result.Matches = append(result.Matches, domain.ReconciliationMatch{
			SourceRecordID:      src.ID,
			LedgerTransactionID: tx.ID,
			MatchType:           matchType,
			MatchScore:          score,
			IsConfirmed:         matchType == domain.MatchTypeExact,
			AmountVariance:      diff,
		})

		if !diff.Abs().LessThan(e.cfg.AmountTolerance) {
			v := Variance{
				Type:                VarianceUnderpayment,
				SourceRecordID:      src.ID,
				LedgerTransactionID: tx.ID,
				MemberRef:           src.MemberRef,
				Expected:            tx.Amount,
				Actual:              src.Amount,
				Difference:          diff,
				Percentage:          percentage(diff, tx.Amount),
				Description:         "received less than expected",
			}
			if diff.IsPositive() {
				v.Type = VarianceOverpayment
				v.Description = "received more than expected"
			}
			result.Variances = append(result.Variances, v)
		}
	}

	for i, tx := range ledger {
		if used[i] {
			continue
		}
		result.UnmatchedLedger = append(result.UnmatchedLedger, tx)
		result.Variances = append(result.Variances, Variance{
			Type:                VarianceMissingTransaction,
			LedgerTransactionID: tx.ID,
			MemberRef:           tx.MemberID,
			Expected:            tx.Amount,
			Difference:          tx.Amount.Neg(),
			Percentage:          decimal.NewFromInt(-100),
			Description:         "expected transaction not found in source",
		})
	}

	result.Summary = e.summarize(sources, ledger, result)

	e.logger.Info(ctx, "Reconciliation completed",
		"reconciliation_id", result.ID,
		"sources", len(sources),
		"ledger", len(ledger),
		"exact", result.Summary.ExactMatches,
		"fuzzy", result.Summary.FuzzyMatches,
		"variances", result.Summary.VarianceCount,
	)

	return result
}

func (e *Engine) findMatch(src SourceRecord, ledger []LedgerTransaction, used []bool) (int, domain.MatchType, int) {
	for i, tx := range ledger {
		if used[i] || !e.eligible(src, tx) {
			continue
		}
		if e.isExact(src, tx) {
			return i, domain.MatchTypeExact, 100
		}
	}

	var candidates []candidate
	for i, tx := range ledger {
		if used[i] || !e.eligible(src, tx) {
			continue
		}
		if score := Score(src, tx); score > e.cfg.FuzzyThreshold {
			candidates = append(candidates, candidate{index: i, score: score})
		}
	}
	if len(candidates) == 0 {
		return -1, "", 0
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	return candidates[0].index, domain.MatchTypeFuzzy, candidates[0].score
}

// eligible rejects pairs that both carry member identifiers which differ.
func (e *Engine) eligible(src SourceRecord, tx LedgerTransaction) bool {
	if !e.cfg.MatchMemberRefs || src.MemberRef == "" || tx.MemberID == "" {
		return true
	}
	return NormalizeMemberID(src.MemberRef) == NormalizeMemberID(tx.MemberID)
}

func (e *Engine) isExact(src SourceRecord, tx LedgerTransaction) bool {
	if !src.Amount.Sub(tx.Amount).Abs().LessThan(e.cfg.AmountTolerance) {
		return false
	}
	return absDays(src.Date, tx.Date) <= e.cfg.ExactDateWindow
}

func (e *Engine) summarize(sources []SourceRecord, ledger []LedgerTransaction, r *Result) Summary {
	s := Summary{
		SourceCount:          len(sources),
		LedgerCount:          len(ledger),
		MatchedCount:         len(r.Matches),
		UnmatchedSourceCount: len(r.UnmatchedSources),
		UnmatchedLedgerCount: len(r.UnmatchedLedger),
		VarianceCount:        len(r.Variances),
		AutoMatchRate:        decimal.Zero,
	}
	for _, src := range sources {
		s.TotalSourceAmount = s.TotalSourceAmount.Add(src.Amount)
	}
	for _, tx := range ledger {
		s.TotalLedgerAmount = s.TotalLedgerAmount.Add(tx.Amount)
	}
	s.NetVariance = s.TotalSourceAmount.Sub(s.TotalLedgerAmount)

	for _, m := range r.Matches {
		if m.MatchType == domain.MatchTypeExact {
			s.ExactMatches++
		} else {
			s.FuzzyMatches++
		}
	}
	if len(sources) > 0 {
		s.AutoMatchRate = decimal.NewFromInt(int64(s.ExactMatches)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(len(sources)))).
			Round(2)
	}
	return s
}

func percentage(diff, expected money.Money) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	return diff.Decimal().Mul(decimal.NewFromInt(100)).Div(expected.Decimal()).Round(2)
}

func absDays(a, b time.Time) int {
	d := domain.DaysBetween(a, b)
	if d < 0 {
		return -d
	}
	return d
}
