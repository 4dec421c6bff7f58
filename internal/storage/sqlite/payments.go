package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

// Arrears

const arrearsColumns = `id, tenant_id, member_id, total_owed, oldest_debt_date, status, notification_stage,
	last_contact_date, resolved_at, created_at, updated_at`

func scanArrears(row rowScanner) (*domain.Arrears, error) {
	var a domain.Arrears
	err := row.Scan(&a.ID, &a.TenantID, &a.MemberID, &a.TotalOwed, asDate(&a.OldestDebtDate), &a.Status,
		&a.NotificationStage, asNullTime(&a.LastContactDate), asNullTime(&a.ResolvedAt),
		asTime(&a.CreatedAt), asTime(&a.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetActiveArrears(ctx context.Context, tenantID, memberID string) (*domain.Arrears, error) {
	a, err := scanArrears(s.db.QueryRowContext(ctx,
		`SELECT `+arrearsColumns+` FROM arrears WHERE tenant_id = ? AND member_id = ? AND status = ?`,
		tenantID, memberID, string(domain.ArrearsStatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrArrearsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get arrears: %w", err)
	}
	return a, nil
}

func (s *Store) ListActiveArrears(ctx context.Context, tenantID string) ([]domain.Arrears, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arrearsColumns+` FROM arrears WHERE tenant_id = ? AND status = ? ORDER BY member_id`,
		tenantID, string(domain.ArrearsStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list arrears: %w", err)
	}
	defer rows.Close()

	result := []domain.Arrears{}
	for rows.Next() {
		a, err := scanArrears(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan arrears: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *Store) CreateArrears(ctx context.Context, a *domain.Arrears) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arrears (`+arrearsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.MemberID, a.TotalOwed, fmtDate(a.OldestDebtDate), string(a.Status),
		string(a.NotificationStage), nullTime(a.LastContactDate), nullTime(a.ResolvedAt),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateArrears
	}
	if err != nil {
		return fmt.Errorf("failed to create arrears: %w", err)
	}
	return nil
}

func (s *Store) UpdateArrears(ctx context.Context, a *domain.Arrears) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE arrears SET total_owed = ?, oldest_debt_date = ?, status = ?, notification_stage = ?,
			last_contact_date = ?, resolved_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		a.TotalOwed, fmtDate(a.OldestDebtDate), string(a.Status), string(a.NotificationStage),
		nullTime(a.LastContactDate), nullTime(a.ResolvedAt), fmtTime(a.UpdatedAt),
		a.TenantID, a.ID)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateArrears
	}
	if err != nil {
		return fmt.Errorf("failed to update arrears: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrArrearsNotFound
	}
	return nil
}

// Payments

const paymentColumns = `id, tenant_id, member_id, amount, method, reference, received_at, status,
	applied_amount, unapplied_amount, processed_at, journal_entry_id`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.TenantID, &p.MemberID, &p.Amount, &p.Method, &p.Reference, asTime(&p.ReceivedAt),
		&p.Status, &p.AppliedAmount, &p.UnappliedAmount, asNullTime(&p.ProcessedAt), &p.JournalEntryID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.MemberID, p.Amount, string(p.Method), p.Reference, fmtTime(p.ReceivedAt),
		string(p.Status), p.AppliedAmount, p.UnappliedAmount, nullTime(p.ProcessedAt), p.JournalEntryID)
	if isUniqueViolation(err) {
		return domain.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, tenantID, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Store) ListReceivedPayments(ctx context.Context, tenantID string) ([]domain.Payment, error) {
	return s.listPayments(ctx, `tenant_id = ? AND status = ?`, tenantID, string(domain.PaymentStatusReceived))
}

func (s *Store) ListUnpostedPayments(ctx context.Context, tenantID string) ([]domain.Payment, error) {
	payments, err := s.listPayments(ctx, `tenant_id = ? AND status = ? AND journal_entry_id = ''`,
		tenantID, string(domain.PaymentStatusApplied))
	if err != nil {
		return nil, err
	}
	result := payments[:0]
	for _, p := range payments {
		if p.AppliedAmount.IsPositive() {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) listPayments(ctx context.Context, where string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY received_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	result := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *Store) MarkPaymentPosted(ctx context.Context, tenantID, id, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET journal_entry_id = ? WHERE tenant_id = ? AND id = ?`, entryID, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to mark payment posted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// SettlePayment writes the payment, its allocations, the touched
// transactions and the member's arrears in one database transaction,
// guarded on the payment still being received and on nothing it was
// computed from having changed.
func (s *Store) SettlePayment(ctx context.Context, settlement domain.PaymentSettlement) error {
	p := settlement.Payment
	return s.withTx(ctx, func(q *sql.Tx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE payments SET status = ?, applied_amount = ?, unapplied_amount = ?, processed_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?`,
			string(p.Status), p.AppliedAmount, p.UnappliedAmount, nullTime(p.ProcessedAt),
			p.TenantID, p.ID, string(domain.PaymentStatusReceived))
		if err != nil {
			return fmt.Errorf("failed to settle payment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE tenant_id = ? AND id = ?`,
				p.TenantID, p.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check payment: %w", err)
			}
			if exists == 0 {
				return domain.ErrPaymentNotFound
			}
			return domain.ErrPaymentAlreadyProcessed
		}

		read := make(map[string]domain.TransactionVersion, len(settlement.Read))
		for _, v := range settlement.Read {
			current, err := getTransaction(ctx, q, p.TenantID, v.ID)
			if err != nil {
				return err
			}
			if !v.Matches(*current) {
				return domain.ErrStaleState
			}
			read[v.ID] = v
		}

		for _, tx := range settlement.Transactions {
			query := `UPDATE dues_transactions SET paid_amount = ?, status = ?, paid_date = ?, updated_at = ?
				WHERE tenant_id = ? AND id = ?`
			args := []interface{}{tx.PaidAmount, string(tx.Status), nullTime(tx.PaidDate), fmtTime(tx.UpdatedAt),
				tx.TenantID, tx.ID}
			if v, ok := read[tx.ID]; ok {
				query += ` AND status = ? AND updated_at = ?`
				args = append(args, string(v.Status), fmtTime(v.UpdatedAt))
			}
			res, err := q.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to update transaction %s: %w", tx.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				if _, ok := read[tx.ID]; ok {
					return domain.ErrStaleState
				}
				return domain.ErrTransactionNotFound
			}
		}

		if a := settlement.Arrears; a != nil {
			res, err := q.ExecContext(ctx, `
				UPDATE arrears SET total_owed = ?, oldest_debt_date = ?, status = ?, resolved_at = ?, updated_at = ?
				WHERE tenant_id = ? AND id = ? AND status = ? AND updated_at = ?`,
				a.TotalOwed, fmtDate(a.OldestDebtDate), string(a.Status), nullTime(a.ResolvedAt), fmtTime(a.UpdatedAt),
				a.TenantID, a.ID, string(domain.ArrearsStatusActive), fmtTime(settlement.ArrearsReadAt))
			if err != nil {
				return fmt.Errorf("failed to update arrears: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrStaleState
			}
		}

		for _, alloc := range settlement.Allocations {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO payment_allocations (tenant_id, payment_id, transaction_id, amount, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				p.TenantID, alloc.PaymentID, alloc.TransactionID, alloc.Amount, fmtTime(alloc.CreatedAt)); err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListAllocations(ctx context.Context, tenantID, paymentID string) ([]domain.PaymentAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, transaction_id, amount, created_at FROM payment_allocations
		WHERE tenant_id = ? AND payment_id = ? ORDER BY created_at, rowid`, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	result := []domain.PaymentAllocation{}
	for rows.Next() {
		var a domain.PaymentAllocation
		if err := rows.Scan(&a.PaymentID, &a.TransactionID, &a.Amount, asTime(&a.CreatedAt)); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
