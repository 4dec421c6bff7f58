package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

// Strike funds and attendance

func (s *Store) SaveStrikeFund(ctx context.Context, f *domain.StrikeFund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strike_funds (id, tenant_id, name, current_balance, minimum_attendance_hours, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			current_balance = excluded.current_balance,
			minimum_attendance_hours = excluded.minimum_attendance_hours,
			is_active = excluded.is_active`,
		f.ID, f.TenantID, f.Name, f.CurrentBalance, f.MinimumAttendanceHours, boolInt(f.IsActive))
	if err != nil {
		return fmt.Errorf("failed to save strike fund: %w", err)
	}
	return nil
}

func (s *Store) GetStrikeFund(ctx context.Context, tenantID, fundID string) (*domain.StrikeFund, error) {
	return getFund(ctx, s.db, tenantID, fundID)
}

func getFund(ctx context.Context, q queryer, tenantID, fundID string) (*domain.StrikeFund, error) {
	var f domain.StrikeFund
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, current_balance, minimum_attendance_hours, is_active
		FROM strike_funds WHERE tenant_id = ? AND id = ?`, tenantID, fundID,
	).Scan(&f.ID, &f.TenantID, &f.Name, &f.CurrentBalance, &f.MinimumAttendanceHours, &f.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strike fund: %w", err)
	}
	return &f, nil
}

func (s *Store) ListActiveStrikeFunds(ctx context.Context, tenantID string) ([]domain.StrikeFund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, current_balance, minimum_attendance_hours, is_active
		FROM strike_funds WHERE tenant_id = ? AND is_active = 1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strike funds: %w", err)
	}
	defer rows.Close()

	result := []domain.StrikeFund{}
	for rows.Next() {
		var f domain.StrikeFund
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &f.CurrentBalance, &f.MinimumAttendanceHours, &f.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan strike fund: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *Store) AdjustFundBalance(ctx context.Context, tenantID, fundID string, delta money.Money) error {
	return s.withTx(ctx, func(q *sql.Tx) error {
		f, err := getFund(ctx, q, tenantID, fundID)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `UPDATE strike_funds SET current_balance = ? WHERE tenant_id = ? AND id = ?`,
			f.CurrentBalance.Add(delta), tenantID, fundID)
		if err != nil {
			return fmt.Errorf("failed to adjust fund balance: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordAttendance(ctx context.Context, a *domain.PicketAttendance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO picket_attendance (id, tenant_id, member_id, fund_id, date, hours, approved)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			hours = excluded.hours,
			approved = excluded.approved`,
		a.ID, a.TenantID, a.MemberID, a.FundID, fmtDate(a.Date), a.Hours, boolInt(a.Approved))
	if err != nil {
		return fmt.Errorf("failed to record attendance: %w", err)
	}
	return nil
}

func (s *Store) ListApprovedAttendance(ctx context.Context, tenantID, fundID string, from, to time.Time) ([]domain.PicketAttendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, member_id, fund_id, date, hours, approved FROM picket_attendance
		WHERE tenant_id = ? AND fund_id = ? AND approved = 1 AND date >= ? AND date <= ?
		ORDER BY date, member_id, id`, tenantID, fundID, fmtDate(from), fmtDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	defer rows.Close()

	result := []domain.PicketAttendance{}
	for rows.Next() {
		var a domain.PicketAttendance
		if err := rows.Scan(&a.ID, &a.TenantID, &a.MemberID, &a.FundID, asDate(&a.Date), &a.Hours, &a.Approved); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Stipend disbursements

const stipendColumns = `id, tenant_id, member_id, fund_id, week_start, week_end, days_worked, calculated_amount,
	status, approved_by, approved_at, payment_reference, failure_reason, disbursed_at, created_at, updated_at`

func scanStipend(row rowScanner) (*domain.StipendDisbursement, error) {
	var st domain.StipendDisbursement
	err := row.Scan(&st.ID, &st.TenantID, &st.MemberID, &st.FundID, asDate(&st.WeekStart), asDate(&st.WeekEnd),
		&st.DaysWorked, &st.CalculatedAmount, &st.Status, &st.ApprovedBy, asNullTime(&st.ApprovedAt),
		&st.PaymentReference, &st.FailureReason, asNullTime(&st.DisbursedAt), asTime(&st.CreatedAt), asTime(&st.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) StipendExists(ctx context.Context, tenantID, memberID, fundID string, weekStart time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stipend_disbursements
		WHERE tenant_id = ? AND member_id = ? AND fund_id = ? AND week_start = ?`,
		tenantID, memberID, fundID, fmtDate(weekStart)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check stipend: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreateStipend(ctx context.Context, st *domain.StipendDisbursement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stipend_disbursements (`+stipendColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TenantID, st.MemberID, st.FundID, fmtDate(st.WeekStart), fmtDate(st.WeekEnd), st.DaysWorked,
		st.CalculatedAmount, string(st.Status), st.ApprovedBy, nullTime(st.ApprovedAt), st.PaymentReference,
		st.FailureReason, nullTime(st.DisbursedAt), fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateStipend
	}
	if err != nil {
		return fmt.Errorf("failed to create stipend: %w", err)
	}
	return nil
}

func (s *Store) GetStipend(ctx context.Context, tenantID, id string) (*domain.StipendDisbursement, error) {
	st, err := scanStipend(s.db.QueryRowContext(ctx,
		`SELECT `+stipendColumns+` FROM stipend_disbursements WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStipendNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stipend: %w", err)
	}
	return st, nil
}

func (s *Store) ListStipendsByStatus(ctx context.Context, tenantID string, status domain.StipendStatus) ([]domain.StipendDisbursement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stipendColumns+` FROM stipend_disbursements
		WHERE tenant_id = ? AND status = ? ORDER BY week_start, member_id, id`, tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list stipends: %w", err)
	}
	defer rows.Close()

	result := []domain.StipendDisbursement{}
	for rows.Next() {
		st, err := scanStipend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stipend: %w", err)
		}
		result = append(result, *st)
	}
	return result, rows.Err()
}

func (s *Store) UpdateStipend(ctx context.Context, st *domain.StipendDisbursement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stipend_disbursements SET days_worked = ?, calculated_amount = ?, status = ?, approved_by = ?,
			approved_at = ?, payment_reference = ?, failure_reason = ?, disbursed_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		st.DaysWorked, st.CalculatedAmount, string(st.Status), st.ApprovedBy, nullTime(st.ApprovedAt),
		st.PaymentReference, st.FailureReason, nullTime(st.DisbursedAt), fmtTime(st.UpdatedAt),
		st.TenantID, st.ID)
	if err != nil {
		return fmt.Errorf("failed to update stipend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStipendNotFound
	}
	return nil
}
