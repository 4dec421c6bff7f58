// Package ledger posts double-entry journal entries for dues activity and
// optionally exports them to an ERP.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/erp"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/retry"
)

// Logical account keys resolved through Config.Accounts.
const (
	AccountCashBank          = "cash_bank"
	AccountDuesRevenue       = "dues_revenue"
	AccountCLCPayable        = "clc_payable"
	AccountStrikeFundExpense = "strike_fund_expense"
	AccountRewardsLiability  = "rewards_liability"
	AccountRewardsExpense    = "rewards_expense"
)

// CashAccount is the logical cash account for a payment method.
func CashAccount(method domain.PaymentMethod) string {
	return "cash_" + string(method)
}

func DefaultAccounts() map[string]string {
	accounts := map[string]string{
		AccountCashBank:          "1000",
		AccountCLCPayable:        "2100",
		AccountRewardsLiability:  "2200",
		AccountDuesRevenue:       "4000",
		AccountStrikeFundExpense: "5100",
		AccountRewardsExpense:    "5200",
	}
	accounts[CashAccount(domain.PaymentMethodCard)] = "1010"
	accounts[CashAccount(domain.PaymentMethodACH)] = "1020"
	accounts[CashAccount(domain.PaymentMethodCheque)] = "1030"
	accounts[CashAccount(domain.PaymentMethodCash)] = "1040"
	accounts[CashAccount(domain.PaymentMethodEFT)] = "1050"
	return accounts
}

type Config struct {
	Currency string
	// StrictDates rejects entries dated after today.
	StrictDates   bool
	Accounts      map[string]string
	ExportRetries int
}

func DefaultConfig() Config {
	return Config{
		Currency:      "CAD",
		StrictDates:   true,
		Accounts:      DefaultAccounts(),
		ExportRetries: 3,
	}
}

type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// ValidationError is returned for entries that fail validation.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrInvalidJournalEntry, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidJournalEntry }

type Service struct {
	store     domain.JournalStore
	connector erp.Connector
	cfg       Config
	logger    *logger.Logger
	now       func() time.Time
}

// NewService accepts a nil connector when no ERP is configured.
func NewService(store domain.JournalStore, connector erp.Connector, cfg Config, log *logger.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "CAD"
	}
	if cfg.Accounts == nil {
		cfg.Accounts = DefaultAccounts()
	}
	if cfg.ExportRetries <= 0 {
		cfg.ExportRetries = 1
	}
	return &Service{
		store:     store,
		connector: connector,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (s *Service) ValidateJournalEntry(ctx context.Context, entry *domain.JournalEntry) ValidationResult {
	var errs []string

	if len(entry.Lines) < 2 {
		errs = append(errs, "journal entry must have at least two lines")
	}
	for i, line := range entry.Lines {
		n := i + 1
		if strings.TrimSpace(line.AccountID) == "" {
			errs = append(errs, fmt.Sprintf("line %d: account is required", n))
		}
		if line.DebitAmount.IsNegative() || line.CreditAmount.IsNegative() {
			errs = append(errs, fmt.Sprintf("line %d: amounts cannot be negative", n))
		}
		if line.DebitAmount.IsZero() == line.CreditAmount.IsZero() {
			errs = append(errs, fmt.Sprintf("line %d: exactly one of debit or credit must be set", n))
		}
	}

	debits, credits := entry.Totals()
	if !debits.Equal(credits) {
		errs = append(errs, fmt.Sprintf("entry is not balanced: debits %s, credits %s", debits, credits))
	}

	if entry.EntryDate.IsZero() {
		errs = append(errs, "entry date is required")
	} else if s.cfg.StrictDates && domain.DateOf(entry.EntryDate).After(domain.DateOf(s.now())) {
		errs = append(errs, "entry date cannot be in the future")
	}

	if len(errs) == 0 && s.connector != nil && s.connector.Supports(erp.CapabilityAccountValidation) {
		problems, err := s.connector.ValidateJournalEntry(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s validation failed: %v", s.connector.Name(), err))
		}
		errs = append(errs, problems...)
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// CreateJournalEntry validates, persists and exports an entry. Export
// failures are recorded on the entry's SyncStatus and do not fail posting.
func (s *Service) CreateJournalEntry(ctx context.Context, entry *domain.JournalEntry) (*domain.JournalEntry, error) {
	if v := s.ValidateJournalEntry(ctx, entry); !v.IsValid {
		return nil, &ValidationError{Errors: v.Errors}
	}

	now := s.now().UTC()
	entry.ID = uuid.New().String()
	entry.Status = domain.JournalStatusPosted
	entry.SyncStatus = domain.SyncStatusNotSynced
	entry.TotalDebits, entry.TotalCredits = entry.Totals()
	entry.CreatedAt = now
	if entry.Currency == "" {
		entry.Currency = s.cfg.Currency
	}
	if entry.EntryNumber == "" {
		entry.EntryNumber = fmt.Sprintf("JE-%s-%s", entry.EntryDate.Format("20060102"), entry.ID[:8])
	}

	if err := s.store.SaveJournalEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save journal entry: %w", err)
	}

	s.logger.Info(ctx, "Journal entry posted",
		"entry_id", entry.ID,
		"entry_number", entry.EntryNumber,
		"total", entry.TotalDebits.String(),
	)

	s.export(ctx, entry)
	return entry, nil
}

func (s *Service) export(ctx context.Context, entry *domain.JournalEntry) {
	if s.connector == nil || !s.connector.Supports(erp.CapabilityJournalExport) {
		return
	}

	var externalID string
	err := retry.Do(ctx, func() error {
		id, err := s.connector.ExportJournalEntry(ctx, entry)
		if errors.Is(err, erp.ErrUnsupportedCapability) {
			return retry.Permanent(err)
		}
		externalID = id
		return err
	}, retry.WithMaxAttempts(s.cfg.ExportRetries), retry.WithBaseDelay(200*time.Millisecond))

	if err != nil {
		entry.SyncStatus = domain.SyncStatusFailed
		s.logger.Warn(ctx, "Journal entry export failed",
			"entry_id", entry.ID,
			"connector", s.connector.Name(),
			"error", err.Error(),
		)
	} else {
		entry.SyncStatus = domain.SyncStatusSynced
		entry.ExternalID = externalID
	}

	if err := s.store.UpdateJournalEntry(ctx, entry); err != nil {
		s.logger.Error(ctx, "Failed to record export status", "entry_id", entry.ID, "error", err.Error())
	}
}

func (s *Service) GetJournalEntry(ctx context.Context, tenantID, id string) (*domain.JournalEntry, error) {
	return s.store.GetJournalEntry(ctx, tenantID, id)
}

// ReverseJournalEntry posts an entry with debits and credits swapped and
// marks the original reversed. Reversing twice returns the first reversal.
func (s *Service) ReverseJournalEntry(ctx context.Context, tenantID, id, reason string) (*domain.JournalEntry, error) {
	original, err := s.store.GetJournalEntry(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if original.ReversedByID != "" {
		return s.store.GetJournalEntry(ctx, tenantID, original.ReversedByID)
	}
	if original.ReversalEntryID != "" {
		return nil, fmt.Errorf("%w: entry %s is itself a reversal", domain.ErrInvalidStatus, original.EntryNumber)
	}

	lines := make([]domain.JournalLine, len(original.Lines))
	for i, line := range original.Lines {
		lines[i] = domain.JournalLine{
			AccountID:    line.AccountID,
			Description:  line.Description,
			DebitAmount:  line.CreditAmount,
			CreditAmount: line.DebitAmount,
		}
	}

	description := "Reversal of " + original.EntryNumber
	if reason != "" {
		description += ": " + reason
	}
	reversal, err := s.CreateJournalEntry(ctx, &domain.JournalEntry{
		TenantID:        tenantID,
		EntryNumber:     original.EntryNumber + "-REV",
		EntryDate:       domain.DateOf(s.now()),
		Description:     description,
		Reference:       original.Reference,
		Currency:        original.Currency,
		Lines:           lines,
		ReversalEntryID: original.ID,
	})
	if errors.Is(err, domain.ErrDuplicateJournalEntry) {
		return s.store.FindJournalEntryByNumber(ctx, tenantID, original.EntryNumber+"-REV")
	}
	if err != nil {
		return nil, err
	}

	original.Status = domain.JournalStatusReversed
	original.ReversedByID = reversal.ID
	if err := s.store.UpdateJournalEntry(ctx, original); err != nil {
		return nil, fmt.Errorf("failed to mark entry reversed: %w", err)
	}

	s.logger.Info(ctx, "Journal entry reversed", "entry_id", original.ID, "reversal_id", reversal.ID)
	return reversal, nil
}
