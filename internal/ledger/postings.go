package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

// Posting describes a business event to be recorded as a two-line entry.
// Reference makes the entry number unique, so posting the same event twice
// returns the first entry.
type Posting struct {
	TenantID    string
	Reference   string
	Amount      money.Money
	Date        time.Time
	MemberID    string
	Description string
}

// RecordDuesPayment debits the cash account of the payment method and
// credits dues revenue.
func (s *Service) RecordDuesPayment(ctx context.Context, p Posting, method domain.PaymentMethod) (*domain.JournalEntry, error) {
	return s.postTwoLine(ctx, "DUES-", p, CashAccount(method), AccountDuesRevenue, "Dues payment")
}

// RecordCLCRemittance moves the per-capita share owed to the labour congress
// from dues revenue to a payable.
func (s *Service) RecordCLCRemittance(ctx context.Context, p Posting) (*domain.JournalEntry, error) {
	return s.postTwoLine(ctx, "CLC-", p, AccountDuesRevenue, AccountCLCPayable, "CLC per-capita remittance")
}

func (s *Service) RecordStrikeFundWithdrawal(ctx context.Context, p Posting) (*domain.JournalEntry, error) {
	return s.postTwoLine(ctx, "SF-", p, AccountStrikeFundExpense, AccountCashBank, "Strike fund stipend")
}

func (s *Service) RecordRewardsRedemption(ctx context.Context, p Posting) (*domain.JournalEntry, error) {
	return s.postTwoLine(ctx, "RWD-", p, AccountRewardsLiability, AccountRewardsExpense, "Rewards redemption")
}

func (s *Service) postTwoLine(ctx context.Context, prefix string, p Posting, debitKey, creditKey, defaultDesc string) (*domain.JournalEntry, error) {
	if p.Reference == "" {
		return nil, fmt.Errorf("%w: reference is required", domain.ErrInvalidJournalEntry)
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidJournalEntry)
	}

	number := prefix + p.Reference
	existing, err := s.store.FindJournalEntryByNumber(ctx, p.TenantID, number)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrJournalEntryNotFound) {
		return nil, err
	}

	debit, err := s.account(debitKey)
	if err != nil {
		return nil, err
	}
	credit, err := s.account(creditKey)
	if err != nil {
		return nil, err
	}

	description := p.Description
	if description == "" {
		description = defaultDesc
	}
	if p.MemberID != "" {
		description = fmt.Sprintf("%s (member %s)", description, p.MemberID)
	}
	date := p.Date
	if date.IsZero() {
		date = s.now()
	}
	amount := p.Amount.Round()

	entry, err := s.CreateJournalEntry(ctx, &domain.JournalEntry{
		TenantID:    p.TenantID,
		EntryNumber: number,
		EntryDate:   domain.DateOf(date),
		Description: description,
		Reference:   p.Reference,
		Lines: []domain.JournalLine{
			{AccountID: debit, Description: description, DebitAmount: amount},
			{AccountID: credit, Description: description, CreditAmount: amount},
		},
	})
	if errors.Is(err, domain.ErrDuplicateJournalEntry) {
		return s.store.FindJournalEntryByNumber(ctx, p.TenantID, number)
	}
	return entry, err
}

func (s *Service) account(key string) (string, error) {
	id, ok := s.cfg.Accounts[key]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: no account mapped for %q", domain.ErrInvalidJournalEntry, key)
	}
	return id, nil
}
