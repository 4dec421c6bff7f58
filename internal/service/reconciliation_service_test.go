package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/banking"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/reconcile"
	"github.com/grachmannico95/dues-ledger/internal/remittance"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remittanceCSV = "employee_id,employee_name,member_number,gross_wages,dues_amount,period_start,period_end\n" +
	"E1,Ana,M-001,4000,50.00,2025-01-01,2025-01-31\n" +
	"E2,Ben,M-002,3900,49.50,2025-01-01,2025-01-31\n" +
	"E3,Cal,M-003,oops,50.00,2025-01-01,2025-01-31\n"

func newReconciliationService(t *testing.T) (ReconciliationService, *storage.MemoryStore) {
	t.Helper()
	log := logger.NewNop()
	store := storage.NewMemoryStore()
	svc := NewReconciliationService(
		store,
		remittance.NewParser(remittance.DefaultConfig(), log),
		banking.NewImporter(dates.MonthFirst, 1<<20, log),
		reconcile.NewEngine(reconcile.DefaultConfig(), log),
		nil,
		log,
	)
	return svc, store
}

func billed(t *testing.T, store *storage.MemoryStore, id, memberID string, amount int64, status domain.TransactionStatus, paid *time.Time) {
	t.Helper()
	tx := &domain.DuesTransaction{
		ID: id, TenantID: "t1", MemberID: memberID,
		Amount: money.FromInt(amount), TotalAmount: money.FromInt(amount),
		PeriodStart: domain.NewDate(2025, 1, 1), PeriodEnd: domain.NewDate(2025, 1, 31),
		DueDate: domain.NewDate(2025, 2, 15), Status: status, PaidDate: paid,
	}
	if paid != nil {
		tx.PaidAmount = tx.TotalAmount
	}
	require.NoError(t, store.CreateDuesTransaction(context.Background(), tx))
}

func TestParseRemittance_DetectsFormatAndStores(t *testing.T) {
	svc, store := newReconciliationService(t)
	ctx := context.Background()

	out, err := svc.ParseRemittance(ctx, RemittanceUpload{
		TenantID: "t1", EmployerID: "ACME", FileName: "jan.csv", Store: true,
		Reader: strings.NewReader(remittanceCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, "csv", out.Format)
	assert.Equal(t, 2, out.Result.Summary.ValidRecords)
	assert.Len(t, out.Result.Errors, 1)
	require.NotEmpty(t, out.RemittanceID)

	rem, err := store.GetRemittance(ctx, "t1", out.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, "99.50", rem.TotalDuesAmount.String())
	assert.Equal(t, domain.NewDate(2025, 1, 31), rem.PeriodEnd)

	wages, err := store.GetWageData(ctx, "t1", "M-001", domain.NewDate(2025, 1, 1), domain.NewDate(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, "4000.00", wages.GrossWages.String())
}

func TestParseRemittance_Errors(t *testing.T) {
	svc, _ := newReconciliationService(t)
	ctx := context.Background()

	_, err := svc.ParseRemittance(ctx, RemittanceUpload{FileName: "jan.pdf", Reader: strings.NewReader("")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = svc.ParseRemittance(ctx, RemittanceUpload{FileName: "jan.csv", DateOrder: "ymd", Reader: strings.NewReader("")})
	assert.Error(t, err)

	_, err = svc.ParseRemittance(ctx, RemittanceUpload{FileName: "jan.csv", Store: true, Reader: strings.NewReader(remittanceCSV)})
	assert.Error(t, err)
}

func TestReconcileRemittance(t *testing.T) {
	svc, store := newReconciliationService(t)
	ctx := context.Background()
	billed(t, store, "tx1", "M001", 50, domain.TransactionStatusPending, nil)
	billed(t, store, "tx2", "M002", 50, domain.TransactionStatusPending, nil)
	billed(t, store, "tx4", "M004", 50, domain.TransactionStatusPending, nil)

	out, err := svc.ReconcileRemittance(ctx, RemittanceUpload{
		TenantID: "t1", EmployerID: "ACME", FileName: "jan.csv", Store: true,
		Reader: strings.NewReader(remittanceCSV),
	})
	require.NoError(t, err)

	sum := out.Result.Summary
	assert.Equal(t, 1, sum.ExactMatches)
	assert.Equal(t, 1, sum.FuzzyMatches)
	assert.Equal(t, 0, sum.UnmatchedSourceCount)
	assert.Equal(t, 1, sum.UnmatchedLedgerCount)
	assert.Len(t, out.ParseErrors, 1)
	assert.Contains(t, out.Report, "RECONCILIATION REPORT")

	types := []reconcile.VarianceType{}
	for _, v := range out.Result.Variances {
		types = append(types, v.Type)
	}
	assert.ElementsMatch(t, []reconcile.VarianceType{reconcile.VarianceUnderpayment, reconcile.VarianceMissingTransaction}, types)

	rem, err := store.GetRemittance(ctx, "t1", out.RemittanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.RemittanceStatusDiscrepancy, rem.Status)
}

func TestReconcileBankStatement(t *testing.T) {
	svc, store := newReconciliationService(t)
	ctx := context.Background()
	paid := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	billed(t, store, "tx1", "M001", 50, domain.TransactionStatusPaid, &paid)

	statement := "Date,Description,Amount,Balance,Reference\n" +
		"2025-02-11,DUES M001,50.00,1050.00,REF1\n" +
		"2025-02-12,BANK FEE,-2.50,1047.50,REF2\n"

	out, err := svc.ReconcileBankStatement(ctx, BankStatementUpload{TenantID: "t1", Format: "td", Reader: strings.NewReader(statement)})
	require.NoError(t, err)
	assert.Equal(t, banking.FormatTD, out.Format)
	assert.Equal(t, 1, out.Result.Summary.SourceCount)
	assert.Equal(t, 1, out.Result.Summary.ExactMatches)

	_, err = svc.ReconcileBankStatement(ctx, BankStatementUpload{TenantID: "t1", Format: "mt940", Reader: strings.NewReader(statement)})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = svc.ReconcileBankStatement(ctx, BankStatementUpload{Format: "td", Reader: strings.NewReader(statement)})
	assert.Error(t, err)
}
