// Package sqlite implements domain.Repository on SQLite through the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ domain.Repository = (*Store)(nil)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath, creating parent directories and
// applying migrations. ":memory:" opens a private in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps pragmas and
	// in-memory databases consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Column encoding

func fmtDate(t time.Time) string {
	return domain.DateOf(t).Format(dateLayout)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtDate(*t)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeColumn scans TEXT dates and timestamps written by fmtDate/fmtTime.
type timeColumn struct {
	dst    *time.Time
	layout string
}

func asDate(dst *time.Time) sql.Scanner { return timeColumn{dst: dst, layout: dateLayout} }

func asTime(dst *time.Time) sql.Scanner { return timeColumn{dst: dst, layout: timeLayout} }

func (c timeColumn) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c.dst = time.Time{}
		return nil
	case time.Time:
		*c.dst = v.UTC()
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (c timeColumn) parse(s string) error {
	t, err := time.Parse(c.layout, s)
	if err != nil {
		return err
	}
	*c.dst = t.UTC()
	return nil
}

type nullTimeColumn struct {
	dst    **time.Time
	layout string
}

func asNullDate(dst **time.Time) sql.Scanner { return nullTimeColumn{dst: dst, layout: dateLayout} }

func asNullTime(dst **time.Time) sql.Scanner { return nullTimeColumn{dst: dst, layout: timeLayout} }

func (c nullTimeColumn) Scan(src interface{}) error {
	if src == nil {
		*c.dst = nil
		return nil
	}
	var t time.Time
	if err := (timeColumn{dst: &t, layout: c.layout}).Scan(src); err != nil {
		return err
	}
	*c.dst = &t
	return nil
}

// Events

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query event: %w", err)
	}
	return n > 0, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?) ON CONFLICT(event_id) DO NOTHING`,
		eventID, fmtTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}
