package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

// Dues rules and assignments

func (s *Store) SaveDuesRule(ctx context.Context, rule *domain.DuesRule) error {
	tiers := rule.Tiers
	if tiers == nil {
		tiers = []domain.Tier{}
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode tiers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dues_rules (id, tenant_id, name, calculation_type, flat_amount, percentage_rate,
			base_field, hourly_rate, overtime_rate, hours_per_period, tiers, formula,
			billing_frequency, effective_from, effective_to, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			calculation_type = excluded.calculation_type,
			flat_amount = excluded.flat_amount,
			percentage_rate = excluded.percentage_rate,
			base_field = excluded.base_field,
			hourly_rate = excluded.hourly_rate,
			overtime_rate = excluded.overtime_rate,
			hours_per_period = excluded.hours_per_period,
			tiers = excluded.tiers,
			formula = excluded.formula,
			billing_frequency = excluded.billing_frequency,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			is_active = excluded.is_active`,
		rule.ID, rule.TenantID, rule.Name, string(rule.CalculationType), rule.FlatAmount, rule.PercentageRate,
		rule.BaseField, rule.HourlyRate, rule.OvertimeRate, rule.HoursPerPeriod, string(tiersJSON), rule.Formula,
		string(rule.BillingFrequency), fmtDate(rule.EffectiveFrom), nullDate(rule.EffectiveTo), boolInt(rule.IsActive),
		fmtTime(rule.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save dues rule: %w", err)
	}
	return nil
}

func (s *Store) GetDuesRule(ctx context.Context, tenantID, ruleID string) (*domain.DuesRule, error) {
	var (
		rule      domain.DuesRule
		tiersJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, calculation_type, flat_amount, percentage_rate, base_field,
			hourly_rate, overtime_rate, hours_per_period, tiers, formula, billing_frequency,
			effective_from, effective_to, is_active, created_at
		FROM dues_rules WHERE tenant_id = ? AND id = ?`, tenantID, ruleID,
	).Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.CalculationType, &rule.FlatAmount, &rule.PercentageRate,
		&rule.BaseField, &rule.HourlyRate, &rule.OvertimeRate, &rule.HoursPerPeriod, &tiersJSON, &rule.Formula,
		&rule.BillingFrequency, asDate(&rule.EffectiveFrom), asNullDate(&rule.EffectiveTo), &rule.IsActive,
		asTime(&rule.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dues rule: %w", err)
	}

	if err := json.Unmarshal([]byte(tiersJSON), &rule.Tiers); err != nil {
		return nil, fmt.Errorf("failed to decode tiers: %w", err)
	}
	if len(rule.Tiers) == 0 {
		rule.Tiers = nil
	}
	return &rule, nil
}

func (s *Store) SaveAssignment(ctx context.Context, a *domain.DuesAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dues_assignments (id, tenant_id, member_id, rule_id, effective_date, end_date, override_amount, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			member_id = excluded.member_id,
			rule_id = excluded.rule_id,
			effective_date = excluded.effective_date,
			end_date = excluded.end_date,
			override_amount = excluded.override_amount,
			is_active = excluded.is_active`,
		a.ID, a.TenantID, a.MemberID, a.RuleID, fmtDate(a.EffectiveDate), nullDate(a.EndDate), a.OverrideAmount, boolInt(a.IsActive),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) ListActiveAssignments(ctx context.Context, tenantID string, asOf time.Time) ([]domain.DuesAssignment, error) {
	day := fmtDate(asOf)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, member_id, rule_id, effective_date, end_date, override_amount, is_active
		FROM dues_assignments
		WHERE tenant_id = ? AND is_active = 1 AND effective_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY member_id, id`, tenantID, day, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	result := []domain.DuesAssignment{}
	for rows.Next() {
		var a domain.DuesAssignment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.MemberID, &a.RuleID, asDate(&a.EffectiveDate),
			asNullDate(&a.EndDate), &a.OverrideAmount, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Dues transactions

const transactionColumns = `id, tenant_id, member_id, rule_id, calculation_type, amount, late_fee, total_amount,
	paid_amount, period_start, period_end, due_date, status, paid_date, created_at, updated_at`

func scanTransaction(row rowScanner) (*domain.DuesTransaction, error) {
	var tx domain.DuesTransaction
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.MemberID, &tx.RuleID, &tx.CalculationType, &tx.Amount, &tx.LateFee,
		&tx.TotalAmount, &tx.PaidAmount, asDate(&tx.PeriodStart), asDate(&tx.PeriodEnd), asDate(&tx.DueDate),
		&tx.Status, asNullTime(&tx.PaidDate), asTime(&tx.CreatedAt), asTime(&tx.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func queryTransactions(ctx context.Context, q queryer, query string, args ...interface{}) ([]domain.DuesTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	result := []domain.DuesTransaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, *tx)
	}
	return result, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) CreateDuesTransaction(ctx context.Context, tx *domain.DuesTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dues_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TenantID, tx.MemberID, tx.RuleID, string(tx.CalculationType), tx.Amount, tx.LateFee, tx.TotalAmount,
		tx.PaidAmount, fmtDate(tx.PeriodStart), fmtDate(tx.PeriodEnd), fmtDate(tx.DueDate), string(tx.Status),
		nullTime(tx.PaidDate), fmtTime(tx.CreatedAt), fmtTime(tx.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("failed to create dues transaction: %w", err)
	}
	return nil
}

func (s *Store) GetDuesTransaction(ctx context.Context, tenantID, id string) (*domain.DuesTransaction, error) {
	return getTransaction(ctx, s.db, tenantID, id)
}

func getTransaction(ctx context.Context, q queryer, tenantID, id string) (*domain.DuesTransaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM dues_transactions WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dues transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) TransactionExistsForPeriod(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dues_transactions
		WHERE tenant_id = ? AND member_id = ? AND period_start = ? AND period_end = ?`,
		tenantID, memberID, fmtDate(periodStart), fmtDate(periodEnd)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check dues transaction: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListDuesTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.DuesTransaction, error) {
	where := []string{"tenant_id = ?"}
	args := []interface{}{filter.TenantID}

	if filter.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.PeriodStart != nil {
		where = append(where, "period_end >= ?")
		args = append(args, fmtDate(*filter.PeriodStart))
	}
	if filter.PeriodEnd != nil {
		where = append(where, "period_start <= ?")
		args = append(args, fmtDate(*filter.PeriodEnd))
	}

	return queryTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM dues_transactions WHERE `+strings.Join(where, " AND ")+
			` ORDER BY period_start, member_id, id`, args...)
}

func (s *Store) ListPendingPastDue(ctx context.Context, tenantID string, asOf time.Time) ([]domain.DuesTransaction, error) {
	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+` FROM dues_transactions
		WHERE tenant_id = ? AND status = ? AND due_date < ?
		ORDER BY due_date, member_id, id`,
		tenantID, string(domain.TransactionStatusPending), fmtDate(asOf))
}

func (s *Store) ListOutstanding(ctx context.Context, tenantID, memberID string) ([]domain.DuesTransaction, error) {
	txs, err := queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+` FROM dues_transactions
		WHERE tenant_id = ? AND member_id = ? AND status IN (?, ?)
		ORDER BY due_date, period_start, id`,
		tenantID, memberID, string(domain.TransactionStatusPending), string(domain.TransactionStatusOverdue))
	if err != nil {
		return nil, err
	}

	result := txs[:0]
	for _, tx := range txs {
		if tx.Outstanding().IsPositive() {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *Store) MarkOverdue(ctx context.Context, tenantID, id string, lateFee money.Money, at time.Time) (*domain.DuesTransaction, error) {
	var updated *domain.DuesTransaction
	err := s.withTx(ctx, func(q *sql.Tx) error {
		tx, err := getTransaction(ctx, q, tenantID, id)
		if err != nil {
			return err
		}
		if tx.Status != domain.TransactionStatusPending {
			return domain.ErrStaleState
		}

		tx.Status = domain.TransactionStatusOverdue
		tx.LateFee = lateFee
		tx.TotalAmount = tx.Amount.Add(lateFee)
		tx.UpdatedAt = at

		res, err := q.ExecContext(ctx, `
			UPDATE dues_transactions SET status = ?, late_fee = ?, total_amount = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?`,
			string(tx.Status), tx.LateFee, tx.TotalAmount, fmtTime(at),
			tenantID, id, string(domain.TransactionStatusPending))
		if err != nil {
			return fmt.Errorf("failed to mark transaction overdue: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrStaleState
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
