package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

const journalColumns = `id, tenant_id, entry_number, entry_date, description, reference, currency, status,
	total_debits, total_credits, reversal_entry_id, reversed_by_id, external_id, sync_status, created_at`

func (s *Store) SaveJournalEntry(ctx context.Context, e *domain.JournalEntry) error {
	return s.withTx(ctx, func(q *sql.Tx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO journal_entries (`+journalColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TenantID, e.EntryNumber, fmtDate(e.EntryDate), e.Description, e.Reference, e.Currency,
			string(e.Status), e.TotalDebits, e.TotalCredits, e.ReversalEntryID, e.ReversedByID, e.ExternalID,
			string(e.SyncStatus), fmtTime(e.CreatedAt))
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJournalEntry
		}
		if err != nil {
			return fmt.Errorf("failed to save journal entry: %w", err)
		}

		for i, line := range e.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO journal_lines (entry_id, line_no, account_id, description, debit_amount, credit_amount)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, i, line.AccountID, line.Description, line.DebitAmount, line.CreditAmount); err != nil {
				return fmt.Errorf("failed to save journal line: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetJournalEntry(ctx context.Context, tenantID, id string) (*domain.JournalEntry, error) {
	return s.findJournalEntry(ctx, `tenant_id = ? AND id = ?`, tenantID, id)
}

func (s *Store) FindJournalEntryByNumber(ctx context.Context, tenantID, entryNumber string) (*domain.JournalEntry, error) {
	return s.findJournalEntry(ctx, `tenant_id = ? AND entry_number = ?`, tenantID, entryNumber)
}

func (s *Store) findJournalEntry(ctx context.Context, where string, args ...interface{}) (*domain.JournalEntry, error) {
	var e domain.JournalEntry
	err := s.db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE `+where, args...).Scan(
		&e.ID, &e.TenantID, &e.EntryNumber, asDate(&e.EntryDate), &e.Description, &e.Reference, &e.Currency,
		&e.Status, &e.TotalDebits, &e.TotalCredits, &e.ReversalEntryID, &e.ReversedByID, &e.ExternalID,
		&e.SyncStatus, asTime(&e.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJournalEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, description, debit_amount, credit_amount FROM journal_lines
		WHERE entry_id = ? ORDER BY line_no`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.JournalLine
		if err := rows.Scan(&line.AccountID, &line.Description, &line.DebitAmount, &line.CreditAmount); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		e.Lines = append(e.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateJournalEntry only touches status and sync fields; posted lines are
// immutable.
func (s *Store) UpdateJournalEntry(ctx context.Context, e *domain.JournalEntry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE journal_entries SET status = ?, reversal_entry_id = ?, reversed_by_id = ?, external_id = ?, sync_status = ?
		WHERE tenant_id = ? AND id = ?`,
		string(e.Status), e.ReversalEntryID, e.ReversedByID, e.ExternalID, string(e.SyncStatus),
		e.TenantID, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJournalEntryNotFound
	}
	return nil
}
