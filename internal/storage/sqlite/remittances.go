package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *Store) SaveRemittance(ctx context.Context, r *domain.Remittance) error {
	var periodStart, periodEnd *time.Time
	if !r.PeriodStart.IsZero() {
		periodStart = &r.PeriodStart
	}
	if !r.PeriodEnd.IsZero() {
		periodEnd = &r.PeriodEnd
	}

	return s.withTx(ctx, func(q *sql.Tx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO remittances (id, tenant_id, employer_id, file_name, format, status, period_start, period_end,
				total_dues_amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				period_start = excluded.period_start,
				period_end = excluded.period_end,
				total_dues_amount = excluded.total_dues_amount`,
			r.ID, r.TenantID, r.EmployerID, r.FileName, r.Format, string(r.Status), nullDate(periodStart),
			nullDate(periodEnd), r.TotalDuesAmount, fmtTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to save remittance: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM remittance_records WHERE remittance_id = ?`, r.ID); err != nil {
			return fmt.Errorf("failed to replace remittance records: %w", err)
		}
		for i, rec := range r.Records {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO remittance_records (remittance_id, position, employee_id, employee_name, member_number,
					gross_wages, dues_amount, billing_period_start, billing_period_end, hours_worked, overtime_hours,
					raw_line_number)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, i, rec.EmployeeID, rec.EmployeeName, rec.MemberNumber, rec.GrossWages, rec.DuesAmount,
				fmtDate(rec.BillingPeriodStart), fmtDate(rec.BillingPeriodEnd), rec.HoursWorked, rec.OvertimeHours,
				rec.RawLineNumber); err != nil {
				return fmt.Errorf("failed to save remittance record: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetRemittance(ctx context.Context, tenantID, id string) (*domain.Remittance, error) {
	var (
		r                      domain.Remittance
		periodStart, periodEnd *time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, employer_id, file_name, format, status, period_start, period_end, total_dues_amount, created_at
		FROM remittances WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&r.ID, &r.TenantID, &r.EmployerID, &r.FileName, &r.Format, &r.Status, asNullDate(&periodStart),
		asNullDate(&periodEnd), &r.TotalDuesAmount, asTime(&r.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRemittanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remittance: %w", err)
	}
	if periodStart != nil {
		r.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		r.PeriodEnd = *periodEnd
	}

	records, err := s.queryRecords(ctx, `WHERE remittance_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	r.Records = records
	return &r, nil
}

const recordColumns = `employee_id, employee_name, member_number, gross_wages, dues_amount, billing_period_start,
	billing_period_end, hours_worked, overtime_hours, raw_line_number`

func (s *Store) queryRecords(ctx context.Context, clause string, args ...interface{}) ([]domain.RemittanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM remittance_records `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query remittance records: %w", err)
	}
	defer rows.Close()

	result := []domain.RemittanceRecord{}
	for rows.Next() {
		var rec domain.RemittanceRecord
		if err := rows.Scan(&rec.EmployeeID, &rec.EmployeeName, &rec.MemberNumber, &rec.GrossWages, &rec.DuesAmount,
			asDate(&rec.BillingPeriodStart), asDate(&rec.BillingPeriodEnd), &rec.HoursWorked, &rec.OvertimeHours,
			&rec.RawLineNumber); err != nil {
			return nil, fmt.Errorf("failed to scan remittance record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetWageData matches records by member number or employee ID, ignoring case
// and surrounding spaces.
func (s *Store) GetWageData(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (*domain.WageData, error) {
	ref := strings.ToLower(strings.TrimSpace(memberID))
	records, err := s.queryRecords(ctx, `
		WHERE remittance_id IN (SELECT id FROM remittances WHERE tenant_id = ?)
			AND billing_period_start <= ? AND billing_period_end >= ?
			AND (lower(trim(CASE WHEN member_number != '' THEN member_number ELSE employee_id END)) = ?
				OR lower(trim(employee_id)) = ?)
		ORDER BY remittance_id, position`,
		tenantID, fmtDate(periodEnd), fmtDate(periodStart), ref, ref)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrRemittanceNotFound
	}

	wages := &domain.WageData{HoursWorked: decimal.Zero, OvertimeHours: decimal.Zero}
	for _, rec := range records {
		wages.GrossWages = wages.GrossWages.Add(rec.GrossWages)
		if rec.HoursWorked != nil {
			wages.HoursWorked = wages.HoursWorked.Add(*rec.HoursWorked)
		}
		if rec.OvertimeHours != nil {
			wages.OvertimeHours = wages.OvertimeHours.Add(*rec.OvertimeHours)
		}
	}
	return wages, nil
}
