package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/banking"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jan10 = domain.NewDate(2025, time.January, 10)

func newTestEngine() *Engine {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	e.now = func() time.Time { return jan10 }
	return e
}

func src(id, amount string, date time.Time, desc string) SourceRecord {
	return SourceRecord{ID: id, Amount: money.MustParse(amount), Date: date, Description: desc}
}

func ledgerTx(id, amount string, date time.Time, desc string) LedgerTransaction {
	return LedgerTransaction{ID: id, Amount: money.MustParse(amount), Date: date, Description: desc}
}

func TestReconcile_ExactMatchWithinWindow(t *testing.T) {
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "dues")},
		[]LedgerTransaction{ledgerTx("l1", "50.00", jan10.AddDate(0, 0, 2), "something else")},
	)

	require.Len(t, result.Matches, 1)
	m := result.Matches[0]
	assert.Equal(t, "s1", m.SourceRecordID)
	assert.Equal(t, "l1", m.LedgerTransactionID)
	assert.Equal(t, domain.MatchTypeExact, m.MatchType)
	assert.Equal(t, 100, m.MatchScore)
	assert.True(t, m.IsConfirmed)
	assert.Empty(t, result.Variances)
	assert.True(t, decimal.NewFromInt(100).Equal(result.Summary.AutoMatchRate))
}

func TestReconcile_FuzzyMatchIsUnconfirmed(t *testing.T) {
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "J SMITH DUES JAN")},
		[]LedgerTransaction{ledgerTx("l1", "49.50", jan10.AddDate(0, 0, 2), "j smith dues jan")},
	)

	require.Len(t, result.Matches, 1)
	m := result.Matches[0]
	assert.Equal(t, domain.MatchTypeFuzzy, m.MatchType)
	assert.Equal(t, 80, m.MatchScore)
	assert.False(t, m.IsConfirmed)
	assert.Equal(t, "0.50", m.AmountVariance.String())

	require.Len(t, result.Variances, 1)
	v := result.Variances[0]
	assert.Equal(t, VarianceOverpayment, v.Type)
	assert.Equal(t, "0.50", v.Difference.String())
	assert.Equal(t, "1.01", v.Percentage.StringFixed(2))
	assert.Equal(t, 1, result.Summary.FuzzyMatches)
	assert.True(t, result.Summary.AutoMatchRate.IsZero())
}

func TestReconcile_ScoreAtThresholdDoesNotMatch(t *testing.T) {
	// 40 (amount) + 10 (four days) + 20 (same text) = 70, not above 70.
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "dues")},
		[]LedgerTransaction{ledgerTx("l1", "49.50", jan10.AddDate(0, 0, 4), "dues")},
	)

	assert.Empty(t, result.Matches)
	require.Len(t, result.UnmatchedSources, 1)
	require.Len(t, result.UnmatchedLedger, 1)
	require.Len(t, result.Variances, 2)
	assert.Equal(t, VarianceUnmatchedSource, result.Variances[0].Type)
	assert.Equal(t, VarianceMissingTransaction, result.Variances[1].Type)
	assert.Equal(t, "-49.50", result.Variances[1].Difference.String())
}

func TestReconcile_ExactOutsideWindowFallsToFuzzy(t *testing.T) {
	// Equal amounts eight days apart score 50 + 0 + 20.
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "dues")},
		[]LedgerTransaction{ledgerTx("l1", "50.00", jan10.AddDate(0, 0, 8), "dues")},
	)
	assert.Empty(t, result.Matches)

	result = newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "dues")},
		[]LedgerTransaction{ledgerTx("l1", "50.00", jan10.AddDate(0, 0, -7), "dues")},
	)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, domain.MatchTypeExact, result.Matches[0].MatchType)
}

func TestReconcile_TiesKeepInputOrder(t *testing.T) {
	ledger := []LedgerTransaction{
		ledgerTx("l1", "49.50", jan10.AddDate(0, 0, 1), "dues"),
		ledgerTx("l2", "49.50", jan10.AddDate(0, 0, 1), "dues"),
	}
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "dues")}, ledger)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "l1", result.Matches[0].LedgerTransactionID)

	exact := []LedgerTransaction{
		ledgerTx("a", "50.00", jan10.AddDate(0, 0, 5), ""),
		ledgerTx("b", "50.00", jan10, ""),
	}
	result = newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{src("s1", "50.00", jan10, "")}, exact)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "a", result.Matches[0].LedgerTransactionID)
}

func TestReconcile_LedgerTransactionMatchedOnce(t *testing.T) {
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{
			src("s1", "25.00", jan10, "dues"),
			src("s2", "25.00", jan10, "dues"),
		},
		[]LedgerTransaction{ledgerTx("l1", "25.00", jan10, "dues")},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "s1", result.Matches[0].SourceRecordID)
	require.Len(t, result.UnmatchedSources, 1)
	assert.Equal(t, "s2", result.UnmatchedSources[0].ID)
	assert.True(t, decimal.NewFromInt(50).Equal(result.Summary.AutoMatchRate))
	assert.Equal(t, "25.00", result.Summary.NetVariance.String())
}

func TestReconcile_MemberRefsMustAgree(t *testing.T) {
	sources := []SourceRecord{{ID: "s1", MemberRef: "M-002", Amount: money.FromInt(25), Date: jan10}}
	ledger := []LedgerTransaction{
		{ID: "l1", MemberID: "m1", Amount: money.FromInt(25), Date: jan10},
		{ID: "l2", MemberID: "m0002", Amount: money.FromInt(25), Date: jan10},
	}

	result := newTestEngine().Reconcile(context.Background(), sources, ledger)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "l2", result.Matches[0].LedgerTransactionID)

	cfg := DefaultConfig()
	cfg.MatchMemberRefs = false
	result = NewEngine(cfg, logger.NewNop()).Reconcile(context.Background(), sources, ledger)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "l1", result.Matches[0].LedgerTransactionID)
}

func TestReconcile_Deterministic(t *testing.T) {
	sources := []SourceRecord{
		src("s1", "50.00", jan10, "alpha"),
		src("s2", "30.00", jan10, "beta"),
		src("s3", "12.00", jan10, "gamma"),
	}
	ledger := []LedgerTransaction{
		ledgerTx("l1", "29.80", jan10.AddDate(0, 0, 1), "beta"),
		ledgerTx("l2", "50.00", jan10.AddDate(0, 0, 3), "alpha"),
		ledgerTx("l3", "99.00", jan10, "delta"),
	}

	first := newTestEngine().Reconcile(context.Background(), sources, ledger)
	second := newTestEngine().Reconcile(context.Background(), sources, ledger)

	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, first.Variances, second.Variances)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestScoreComponents(t *testing.T) {
	tests := []struct {
		diff string
		want int
	}{
		{"0.00", 50}, {"0.009", 50}, {"0.01", 40}, {"0.99", 40},
		{"1.00", 20}, {"9.99", 20}, {"10.00", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, amountScore(money.MustParse(tt.diff)), tt.diff)
	}

	days := map[int]int{0: 30, 1: 20, 3: 20, 4: 10, 7: 10, 8: 0}
	for d, want := range days {
		assert.Equal(t, want, dateScore(d), d)
	}

	assert.Equal(t, 20, descriptionScore("", ""))
	assert.Equal(t, 13, descriptionScore("abc", "abd"))
	assert.Equal(t, 20, descriptionScore("Dues", "DUES"))
	assert.Equal(t, 0, descriptionScore("abc", "xyz"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("Local 42", "local 42"))
	assert.InDelta(t, 0.75, Similarity("dues", "dies"), 1e-9)
	assert.Equal(t, 0.0, Similarity("", "abc"))
}

func TestNormalizeMemberID(t *testing.T) {
	assert.Equal(t, "m123", NormalizeMemberID("M-00123"))
	assert.Equal(t, "m123", NormalizeMemberID(" m 123 "))
	assert.Equal(t, "emp0", NormalizeMemberID("EMP000"))
	assert.Equal(t, "abc", NormalizeMemberID("abc"))
}

func TestAdapters(t *testing.T) {
	records := []domain.RemittanceRecord{{
		EmployeeID:       "E1",
		MemberNumber:     "M-001",
		DuesAmount:       money.FromInt(50),
		BillingPeriodEnd: domain.NewDate(2025, time.January, 31),
		RawLineNumber:    2,
	}}
	sources := FromRemittance(records)
	require.Len(t, sources, 1)
	assert.Equal(t, "line-2", sources[0].ID)
	assert.Equal(t, "M-001", sources[0].MemberRef)
	assert.Equal(t, "m1", sources[0].Description)

	deposits := FromBankTransactions([]banking.Transaction{
		{ID: "td-0", Type: banking.TransactionCredit, Amount: money.FromInt(50)},
		{ID: "td-1", Type: banking.TransactionDebit, Amount: money.FromInt(3)},
	})
	require.Len(t, deposits, 1)
	assert.Equal(t, "td-0", deposits[0].ID)

	paid := domain.NewDate(2025, time.February, 3)
	txs := []domain.DuesTransaction{
		{ID: "t1", MemberID: "M1", TotalAmount: money.FromInt(50), PeriodEnd: domain.NewDate(2025, time.January, 31), PaidDate: &paid},
		{ID: "t2", MemberID: "M2", TotalAmount: money.FromInt(50), PeriodEnd: domain.NewDate(2025, time.January, 31)},
	}
	assert.Len(t, FromDuesTransactions(txs, ByPeriodEnd), 2)
	byPaid := FromDuesTransactions(txs, ByPaidDate)
	require.Len(t, byPaid, 1)
	assert.Equal(t, paid, byPaid[0].Date)
}

func TestGenerateReport(t *testing.T) {
	result := newTestEngine().Reconcile(context.Background(),
		[]SourceRecord{
			src("s1", "50.00", jan10, "dues"),
			src("s2", "12.00", jan10, "other"),
		},
		[]LedgerTransaction{ledgerTx("l1", "50.00", jan10, "dues")},
	)

	report := GenerateReport(result)
	assert.True(t, strings.HasPrefix(report, "=== RECONCILIATION REPORT ==="))
	assert.Contains(t, report, "SUMMARY")
	assert.Contains(t, report, "VARIANCES")
	assert.Contains(t, report, "[unmatched_source] s2")
	assert.Contains(t, report, "MATCHES")
	assert.Contains(t, report, "confirmed")
	assert.True(t, strings.HasSuffix(report, "=== END OF REPORT ===\n"))
}
