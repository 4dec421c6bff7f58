package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/dues"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDuesStage(t *testing.T) (*DuesStage, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	stage := NewDuesStage(store, dues.NewCalculator(dues.DefaultConfig(), logger.NewNop()), logger.NewNop())
	stage.now = clock(time.Date(2025, time.January, 31, 9, 0, 0, 0, time.UTC))

	ctx := context.Background()
	require.NoError(t, store.SaveDuesRule(ctx, &domain.DuesRule{
		ID: "flat", TenantID: "t1", Name: "Flat", CalculationType: domain.CalculationFlatRate,
		FlatAmount: money.FromInt(50), BillingFrequency: domain.BillingMonthly,
		EffectiveFrom: domain.NewDate(2024, 1, 1), IsActive: true,
	}))
	require.NoError(t, store.SaveDuesRule(ctx, &domain.DuesRule{
		ID: "pct", TenantID: "t1", Name: "Percent", CalculationType: domain.CalculationPercentage,
		PercentageRate: decimal.RequireFromString("0.02"), BaseField: domain.BaseFieldGrossWages,
		BillingFrequency: domain.BillingMonthly, EffectiveFrom: domain.NewDate(2024, 1, 1), IsActive: true,
	}))
	return stage, store
}

func assign(t *testing.T, store *storage.MemoryStore, id, memberID, ruleID string) {
	t.Helper()
	require.NoError(t, store.SaveAssignment(context.Background(), &domain.DuesAssignment{
		ID: id, TenantID: "t1", MemberID: memberID, RuleID: ruleID,
		EffectiveDate: domain.NewDate(2024, 6, 1), IsActive: true,
	}))
}

func januaryParams() MonthlyDuesParams {
	return MonthlyDuesParams{TenantID: "t1", PeriodStart: domain.NewDate(2025, 1, 1), PeriodEnd: domain.NewDate(2025, 1, 31)}
}

func TestProcessMonthlyDues_CreatesOncePerPeriod(t *testing.T) {
	stage, store := newDuesStage(t)
	ctx := context.Background()
	assign(t, store, "a1", "M1", "flat")
	assign(t, store, "a2", "M2", "flat")

	summary, err := stage.ProcessMonthlyDues(ctx, januaryParams())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts["created"])
	assert.Equal(t, "100.00", summary.Amounts["billed"].String())
	assert.True(t, summary.OK())

	txs, err := store.ListDuesTransactions(ctx, domain.TransactionFilter{TenantID: "t1", MemberID: "M1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionStatusPending, txs[0].Status)
	assert.Equal(t, "50.00", txs[0].TotalAmount.String())
	assert.Equal(t, domain.NewDate(2025, 2, 15), txs[0].DueDate)

	again, err := stage.ProcessMonthlyDues(ctx, januaryParams())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Counts["created"])
	assert.Equal(t, 2, again.Counts["skipped"])
}

func TestProcessMonthlyDues_UsesRemittanceWages(t *testing.T) {
	stage, store := newDuesStage(t)
	ctx := context.Background()
	assign(t, store, "a1", "M1", "pct")
	require.NoError(t, store.SaveRemittance(ctx, &domain.Remittance{
		ID: "r1", TenantID: "t1", EmployerID: "E1",
		PeriodStart: domain.NewDate(2025, 1, 1), PeriodEnd: domain.NewDate(2025, 1, 31),
		Records: []domain.RemittanceRecord{{
			EmployeeID: "E-77", MemberNumber: "M1", GrossWages: money.FromInt(4000), DuesAmount: money.FromInt(80),
			BillingPeriodStart: domain.NewDate(2025, 1, 1), BillingPeriodEnd: domain.NewDate(2025, 1, 31),
		}},
	}))

	summary, err := stage.ProcessMonthlyDues(ctx, januaryParams())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Counts["created"])
	assert.Equal(t, "80.00", summary.Amounts["billed"].String())
}

func TestProcessMonthlyDues_MissingWagesIsAnEntityError(t *testing.T) {
	stage, store := newDuesStage(t)
	assign(t, store, "a1", "M1", "pct")
	assign(t, store, "a2", "M2", "flat")

	summary, err := stage.ProcessMonthlyDues(context.Background(), januaryParams())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["created"])
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "M1", summary.Errors[0].EntityID)
}

func TestProcessMonthlyDues_SkipsMissingOrInactiveRules(t *testing.T) {
	stage, store := newDuesStage(t)
	ctx := context.Background()
	assign(t, store, "a1", "M1", "gone")
	require.NoError(t, store.SaveDuesRule(ctx, &domain.DuesRule{
		ID: "future", TenantID: "t1", CalculationType: domain.CalculationFlatRate, FlatAmount: money.FromInt(10),
		EffectiveFrom: domain.NewDate(2026, 1, 1), IsActive: true,
	}))
	assign(t, store, "a2", "M2", "future")

	summary, err := stage.ProcessMonthlyDues(ctx, januaryParams())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["created"])
	assert.Equal(t, 2, summary.Counts["skipped"])
	assert.Len(t, summary.Warnings, 2)
}

func TestProcessMonthlyDues_OverrideAmount(t *testing.T) {
	stage, store := newDuesStage(t)
	ctx := context.Background()
	override := money.MustParse("12.50")
	require.NoError(t, store.SaveAssignment(ctx, &domain.DuesAssignment{
		ID: "a1", TenantID: "t1", MemberID: "M1", RuleID: "flat",
		EffectiveDate: domain.NewDate(2024, 6, 1), OverrideAmount: &override, IsActive: true,
	}))

	_, err := stage.ProcessMonthlyDues(ctx, januaryParams())
	require.NoError(t, err)

	txs, err := store.ListDuesTransactions(ctx, domain.TransactionFilter{TenantID: "t1", MemberID: "M1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.CalculationOverride, txs[0].CalculationType)
	assert.Equal(t, "12.50", txs[0].TotalAmount.String())
}

func TestProcessMonthlyDues_RejectsBadInput(t *testing.T) {
	stage, _ := newDuesStage(t)

	_, err := stage.ProcessMonthlyDues(context.Background(), MonthlyDuesParams{})
	assert.Error(t, err)

	_, err = stage.ProcessMonthlyDues(context.Background(), MonthlyDuesParams{
		TenantID: "t1", PeriodStart: domain.NewDate(2025, 2, 1), PeriodEnd: domain.NewDate(2025, 1, 1),
	})
	assert.Error(t, err)
}

func TestDuesStage_RunBillsCurrentMonth(t *testing.T) {
	stage, store := newDuesStage(t)
	assign(t, store, "a1", "M1", "flat")

	summary, err := stage.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["created"])

	exists, err := store.TransactionExistsForPeriod(context.Background(), "t1", "M1", domain.NewDate(2025, 1, 1), domain.NewDate(2025, 1, 31))
	require.NoError(t, err)
	assert.True(t, exists)
}
