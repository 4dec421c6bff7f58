package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

// MemoryStore implements domain.Repository in process memory. Records are
// copied in and out so callers never share state with the store.
type MemoryStore struct {
	rules           map[string]domain.DuesRule
	assignments     map[string]domain.DuesAssignment
	transactions    map[string]domain.DuesTransaction
	arrears         map[string]domain.Arrears
	payments        map[string]domain.Payment
	allocations     map[string][]domain.PaymentAllocation
	funds           map[string]domain.StrikeFund
	attendance      map[string]domain.PicketAttendance
	stipends        map[string]domain.StipendDisbursement
	journal         map[string]domain.JournalEntry
	remittances     map[string]domain.Remittance
	processedEvents map[string]bool
	mu              sync.RWMutex
}

var _ domain.Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:           make(map[string]domain.DuesRule),
		assignments:     make(map[string]domain.DuesAssignment),
		transactions:    make(map[string]domain.DuesTransaction),
		arrears:         make(map[string]domain.Arrears),
		payments:        make(map[string]domain.Payment),
		allocations:     make(map[string][]domain.PaymentAllocation),
		funds:           make(map[string]domain.StrikeFund),
		attendance:      make(map[string]domain.PicketAttendance),
		stipends:        make(map[string]domain.StipendDisbursement),
		journal:         make(map[string]domain.JournalEntry),
		remittances:     make(map[string]domain.Remittance),
		processedEvents: make(map[string]bool),
	}
}

func sameDay(a, b time.Time) bool {
	return domain.DateOf(a).Equal(domain.DateOf(b))
}

// Dues rules and assignments

func (s *MemoryStore) SaveDuesRule(ctx context.Context, rule *domain.DuesRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rule
	r.Tiers = append([]domain.Tier(nil), rule.Tiers...)
	s.rules[r.ID] = r

	return nil
}

func (s *MemoryStore) GetDuesRule(ctx context.Context, tenantID, ruleID string) (*domain.DuesRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[ruleID]
	if !exists || rule.TenantID != tenantID {
		return nil, domain.ErrRuleNotFound
	}
	rule.Tiers = append([]domain.Tier(nil), rule.Tiers...)

	return &rule, nil
}

func (s *MemoryStore) SaveAssignment(ctx context.Context, assignment *domain.DuesAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[assignment.ID] = *assignment

	return nil
}

func (s *MemoryStore) ListActiveAssignments(ctx context.Context, tenantID string, asOf time.Time) ([]domain.DuesAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.DuesAssignment{}
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.ActiveOn(asOf) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MemberID != result[j].MemberID {
			return result[i].MemberID < result[j].MemberID
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Dues transactions

func (s *MemoryStore) CreateDuesTransaction(ctx context.Context, tx *domain.DuesTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return domain.ErrDuplicateTransaction
	}
	for _, existing := range s.transactions {
		if existing.TenantID == tx.TenantID && existing.MemberID == tx.MemberID &&
			sameDay(existing.PeriodStart, tx.PeriodStart) && sameDay(existing.PeriodEnd, tx.PeriodEnd) {
			return domain.ErrDuplicateTransaction
		}
	}
	s.transactions[tx.ID] = *tx

	return nil
}

func (s *MemoryStore) GetDuesTransaction(ctx context.Context, tenantID, id string) (*domain.DuesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists || tx.TenantID != tenantID {
		return nil, domain.ErrTransactionNotFound
	}

	return &tx, nil
}

func (s *MemoryStore) TransactionExistsForPeriod(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.TenantID == tenantID && tx.MemberID == memberID &&
			sameDay(tx.PeriodStart, periodStart) && sameDay(tx.PeriodEnd, periodEnd) {
			return true, nil
		}
	}

	return false, nil
}

func (s *MemoryStore) ListDuesTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.DuesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.DuesTransaction{}
	for _, tx := range s.transactions {
		if tx.TenantID != filter.TenantID {
			continue
		}
		if filter.MemberID != "" && tx.MemberID != filter.MemberID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, tx.Status) {
			continue
		}
		if filter.PeriodStart != nil && domain.DateOf(tx.PeriodEnd).Before(domain.DateOf(*filter.PeriodStart)) {
			continue
		}
		if filter.PeriodEnd != nil && domain.DateOf(tx.PeriodStart).After(domain.DateOf(*filter.PeriodEnd)) {
			continue
		}
		result = append(result, tx)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		return a.ID < b.ID
	})

	return result, nil
}

func hasStatus(statuses []domain.TransactionStatus, status domain.TransactionStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListPendingPastDue(ctx context.Context, tenantID string, asOf time.Time) ([]domain.DuesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := domain.DateOf(asOf)
	result := []domain.DuesTransaction{}
	for _, tx := range s.transactions {
		if tx.TenantID == tenantID && tx.Status == domain.TransactionStatusPending && domain.DateOf(tx.DueDate).Before(cutoff) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		return a.ID < b.ID
	})

	return result, nil
}

func (s *MemoryStore) ListOutstanding(ctx context.Context, tenantID, memberID string) ([]domain.DuesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.DuesTransaction{}
	for _, tx := range s.transactions {
		if tx.TenantID != tenantID || tx.MemberID != memberID {
			continue
		}
		if tx.Status != domain.TransactionStatusPending && tx.Status != domain.TransactionStatusOverdue {
			continue
		}
		if !tx.Outstanding().IsPositive() {
			continue
		}
		result = append(result, tx)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		return a.ID < b.ID
	})

	return result, nil
}

func (s *MemoryStore) MarkOverdue(ctx context.Context, tenantID, id string, lateFee money.Money, at time.Time) (*domain.DuesTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[id]
	if !exists || tx.TenantID != tenantID {
		return nil, domain.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, domain.ErrStaleState
	}

	tx.Status = domain.TransactionStatusOverdue
	tx.LateFee = lateFee
	tx.TotalAmount = tx.Amount.Add(lateFee)
	tx.UpdatedAt = at
	s.transactions[id] = tx

	return &tx, nil
}

// Arrears

func (s *MemoryStore) GetActiveArrears(ctx context.Context, tenantID, memberID string) (*domain.Arrears, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.arrears {
		if a.TenantID == tenantID && a.MemberID == memberID && a.Status == domain.ArrearsStatusActive {
			return &a, nil
		}
	}

	return nil, domain.ErrArrearsNotFound
}

func (s *MemoryStore) ListActiveArrears(ctx context.Context, tenantID string) ([]domain.Arrears, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Arrears{}
	for _, a := range s.arrears {
		if a.TenantID == tenantID && a.Status == domain.ArrearsStatusActive {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MemberID < result[j].MemberID })

	return result, nil
}

func (s *MemoryStore) CreateArrears(ctx context.Context, arrears *domain.Arrears) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.arrears {
		if a.TenantID == arrears.TenantID && a.MemberID == arrears.MemberID && a.Status == domain.ArrearsStatusActive {
			return domain.ErrDuplicateArrears
		}
	}
	s.arrears[arrears.ID] = *arrears

	return nil
}

func (s *MemoryStore) UpdateArrears(ctx context.Context, arrears *domain.Arrears) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.arrears[arrears.ID]
	if !exists || existing.TenantID != arrears.TenantID {
		return domain.ErrArrearsNotFound
	}
	s.arrears[arrears.ID] = *arrears

	return nil
}

// Payments

func paymentKey(tenantID, id string) string {
	return tenantID + "/" + id
}

func (s *MemoryStore) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(payment.TenantID, payment.ID)
	if _, exists := s.payments[key]; exists {
		return domain.ErrDuplicatePayment
	}
	s.payments[key] = *payment

	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, tenantID, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.payments[paymentKey(tenantID, id)]
	if !exists {
		return nil, domain.ErrPaymentNotFound
	}

	return &p, nil
}

func (s *MemoryStore) ListReceivedPayments(ctx context.Context, tenantID string) ([]domain.Payment, error) {
	return s.listPayments(tenantID, func(p domain.Payment) bool {
		return p.Status == domain.PaymentStatusReceived
	}), nil
}

func (s *MemoryStore) ListUnpostedPayments(ctx context.Context, tenantID string) ([]domain.Payment, error) {
	return s.listPayments(tenantID, func(p domain.Payment) bool {
		return p.Status == domain.PaymentStatusApplied && p.AppliedAmount.IsPositive() && p.JournalEntryID == ""
	}), nil
}

func (s *MemoryStore) listPayments(tenantID string, keep func(domain.Payment) bool) []domain.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Payment{}
	for _, p := range s.payments {
		if p.TenantID == tenantID && keep(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result
}

func (s *MemoryStore) MarkPaymentPosted(ctx context.Context, tenantID, id, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(tenantID, id)
	p, exists := s.payments[key]
	if !exists {
		return domain.ErrPaymentNotFound
	}
	p.JournalEntryID = entryID
	s.payments[key] = p

	return nil
}

// SettlePayment applies the whole settlement under one lock, which makes it
// atomic with respect to every other store call.
func (s *MemoryStore) SettlePayment(ctx context.Context, settlement domain.PaymentSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(settlement.Payment.TenantID, settlement.Payment.ID)
	current, exists := s.payments[key]
	if !exists {
		return domain.ErrPaymentNotFound
	}
	if current.Status != domain.PaymentStatusReceived {
		return domain.ErrPaymentAlreadyProcessed
	}
	for _, v := range settlement.Read {
		tx, ok := s.transactions[v.ID]
		if !ok || tx.TenantID != settlement.Payment.TenantID {
			return domain.ErrTransactionNotFound
		}
		if !v.Matches(tx) {
			return domain.ErrStaleState
		}
	}
	for _, tx := range settlement.Transactions {
		if _, ok := s.transactions[tx.ID]; !ok {
			return domain.ErrTransactionNotFound
		}
	}
	if a := settlement.Arrears; a != nil {
		stored, ok := s.arrears[a.ID]
		if !ok || stored.TenantID != a.TenantID {
			return domain.ErrArrearsNotFound
		}
		if stored.Status != domain.ArrearsStatusActive || !stored.UpdatedAt.Equal(settlement.ArrearsReadAt) {
			return domain.ErrStaleState
		}
	}

	s.payments[key] = settlement.Payment
	for _, tx := range settlement.Transactions {
		s.transactions[tx.ID] = tx
	}
	if a := settlement.Arrears; a != nil {
		s.arrears[a.ID] = *a
	}
	s.allocations[key] = append(s.allocations[key], settlement.Allocations...)

	return nil
}

func (s *MemoryStore) ListAllocations(ctx context.Context, tenantID, paymentID string) ([]domain.PaymentAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.PaymentAllocation{}, s.allocations[paymentKey(tenantID, paymentID)]...), nil
}

// Strike funds and stipends

func (s *MemoryStore) SaveStrikeFund(ctx context.Context, fund *domain.StrikeFund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funds[fund.ID] = *fund

	return nil
}

func (s *MemoryStore) GetStrikeFund(ctx context.Context, tenantID, fundID string) (*domain.StrikeFund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fund, exists := s.funds[fundID]
	if !exists || fund.TenantID != tenantID {
		return nil, domain.ErrFundNotFound
	}

	return &fund, nil
}

func (s *MemoryStore) ListActiveStrikeFunds(ctx context.Context, tenantID string) ([]domain.StrikeFund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.StrikeFund{}
	for _, f := range s.funds {
		if f.TenantID == tenantID && f.IsActive {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *MemoryStore) AdjustFundBalance(ctx context.Context, tenantID, fundID string, delta money.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fund, exists := s.funds[fundID]
	if !exists || fund.TenantID != tenantID {
		return domain.ErrFundNotFound
	}
	fund.CurrentBalance = fund.CurrentBalance.Add(delta)
	s.funds[fundID] = fund

	return nil
}

func (s *MemoryStore) RecordAttendance(ctx context.Context, attendance *domain.PicketAttendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attendance[attendance.ID] = *attendance

	return nil
}

func (s *MemoryStore) ListApprovedAttendance(ctx context.Context, tenantID, fundID string, from, to time.Time) ([]domain.PicketAttendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = domain.DateOf(from), domain.DateOf(to)
	result := []domain.PicketAttendance{}
	for _, a := range s.attendance {
		if a.TenantID != tenantID || a.FundID != fundID || !a.Approved {
			continue
		}
		d := domain.DateOf(a.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		return a.ID < b.ID
	})

	return result, nil
}

func (s *MemoryStore) StipendExists(ctx context.Context, tenantID, memberID, fundID string, weekStart time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findStipend(tenantID, memberID, fundID, weekStart), nil
}

func (s *MemoryStore) findStipend(tenantID, memberID, fundID string, weekStart time.Time) bool {
	for _, st := range s.stipends {
		if st.TenantID == tenantID && st.MemberID == memberID && st.FundID == fundID && sameDay(st.WeekStart, weekStart) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateStipend(ctx context.Context, stipend *domain.StipendDisbursement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findStipend(stipend.TenantID, stipend.MemberID, stipend.FundID, stipend.WeekStart) {
		return domain.ErrDuplicateStipend
	}
	s.stipends[stipend.ID] = *stipend

	return nil
}

func (s *MemoryStore) GetStipend(ctx context.Context, tenantID, id string) (*domain.StipendDisbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stipends[id]
	if !exists || st.TenantID != tenantID {
		return nil, domain.ErrStipendNotFound
	}

	return &st, nil
}

func (s *MemoryStore) ListStipendsByStatus(ctx context.Context, tenantID string, status domain.StipendStatus) ([]domain.StipendDisbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.StipendDisbursement{}
	for _, st := range s.stipends {
		if st.TenantID == tenantID && st.Status == status {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.WeekStart.Equal(b.WeekStart) {
			return a.WeekStart.Before(b.WeekStart)
		}
		if a.MemberID != b.MemberID {
			return a.MemberID < b.MemberID
		}
		return a.ID < b.ID
	})

	return result, nil
}

func (s *MemoryStore) UpdateStipend(ctx context.Context, stipend *domain.StipendDisbursement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.stipends[stipend.ID]
	if !exists || existing.TenantID != stipend.TenantID {
		return domain.ErrStipendNotFound
	}
	s.stipends[stipend.ID] = *stipend

	return nil
}

// Journal entries

func (s *MemoryStore) SaveJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.journal {
		if e.TenantID == entry.TenantID && e.EntryNumber == entry.EntryNumber {
			return domain.ErrDuplicateJournalEntry
		}
	}
	s.journal[entry.ID] = copyEntry(*entry)

	return nil
}

func (s *MemoryStore) GetJournalEntry(ctx context.Context, tenantID, id string) (*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.journal[id]
	if !exists || e.TenantID != tenantID {
		return nil, domain.ErrJournalEntryNotFound
	}
	e = copyEntry(e)

	return &e, nil
}

func (s *MemoryStore) FindJournalEntryByNumber(ctx context.Context, tenantID, entryNumber string) (*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.journal {
		if e.TenantID == tenantID && e.EntryNumber == entryNumber {
			e = copyEntry(e)
			return &e, nil
		}
	}

	return nil, domain.ErrJournalEntryNotFound
}

func (s *MemoryStore) UpdateJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.journal[entry.ID]
	if !exists || existing.TenantID != entry.TenantID {
		return domain.ErrJournalEntryNotFound
	}
	s.journal[entry.ID] = copyEntry(*entry)

	return nil
}

func copyEntry(e domain.JournalEntry) domain.JournalEntry {
	e.Lines = append([]domain.JournalLine(nil), e.Lines...)
	return e
}

// Remittances

func (s *MemoryStore) SaveRemittance(ctx context.Context, remittance *domain.Remittance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *remittance
	r.Records = append([]domain.RemittanceRecord(nil), remittance.Records...)
	s.remittances[r.ID] = r

	return nil
}

func (s *MemoryStore) GetRemittance(ctx context.Context, tenantID, id string) (*domain.Remittance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.remittances[id]
	if !exists || r.TenantID != tenantID {
		return nil, domain.ErrRemittanceNotFound
	}
	r.Records = append([]domain.RemittanceRecord(nil), r.Records...)

	return &r, nil
}

func (s *MemoryStore) GetWageData(ctx context.Context, tenantID, memberID string, periodStart, periodEnd time.Time) (*domain.WageData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := domain.DateOf(periodStart), domain.DateOf(periodEnd)
	wages := &domain.WageData{HoursWorked: decimal.Zero, OvertimeHours: decimal.Zero}
	found := false

	for _, r := range s.remittances {
		if r.TenantID != tenantID {
			continue
		}
		for _, rec := range r.Records {
			if !recordBelongsTo(rec, memberID) {
				continue
			}
			if domain.DateOf(rec.BillingPeriodStart).After(end) || domain.DateOf(rec.BillingPeriodEnd).Before(start) {
				continue
			}
			found = true
			wages.GrossWages = wages.GrossWages.Add(rec.GrossWages)
			if rec.HoursWorked != nil {
				wages.HoursWorked = wages.HoursWorked.Add(*rec.HoursWorked)
			}
			if rec.OvertimeHours != nil {
				wages.OvertimeHours = wages.OvertimeHours.Add(*rec.OvertimeHours)
			}
		}
	}

	if !found {
		return nil, domain.ErrRemittanceNotFound
	}

	return wages, nil
}

func recordBelongsTo(rec domain.RemittanceRecord, memberID string) bool {
	return strings.EqualFold(strings.TrimSpace(rec.MemberRef()), memberID) ||
		strings.EqualFold(strings.TrimSpace(rec.EmployeeID), memberID)
}

// Events

func (s *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.processedEvents[eventID], nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processedEvents[eventID] = true

	return nil
}
