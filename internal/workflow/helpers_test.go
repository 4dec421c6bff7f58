package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) notifications() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Notification
	for _, e := range p.events {
		if n, ok := e.Payload.(eventbus.NotificationEvent); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

func (p *recordingPublisher) audits() []domain.AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range p.events {
		if a, ok := e.Payload.(eventbus.AuditEvent); ok {
			out = append(out, a.Audit)
		}
	}
	return out
}

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func monthlyTx(id, memberID string, month time.Month, amount int64, status domain.TransactionStatus) *domain.DuesTransaction {
	start := domain.NewDate(2025, month, 1)
	end := start.AddDate(0, 1, -1)
	return &domain.DuesTransaction{
		ID:          id,
		TenantID:    "t1",
		MemberID:    memberID,
		Amount:      money.FromInt(amount),
		LateFee:     money.Zero,
		TotalAmount: money.FromInt(amount),
		PaidAmount:  money.Zero,
		PeriodStart: start,
		PeriodEnd:   end,
		DueDate:     end.AddDate(0, 0, 15),
		Status:      status,
	}
}
