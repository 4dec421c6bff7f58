package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

// WebhookChargeSucceeded is the processor event that records a payment.
const WebhookChargeSucceeded = "charge.succeeded"

type NewPayment struct {
	ID         string
	TenantID   string
	MemberID   string
	Amount     money.Money
	Method     domain.PaymentMethod
	Reference  string
	ReceivedAt time.Time
}

// PaymentService records money received from members. Received payments
// are applied later by the payments stage.
type PaymentService interface {
	RecordPayment(ctx context.Context, p NewPayment) (*domain.Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Payment, error)
	GetPayment(ctx context.Context, tenantID, id string) (*domain.Payment, error)
}

type paymentService struct {
	store     domain.PaymentStore
	processor domain.PaymentProcessor
	logger    *logger.Logger
	now       func() time.Time
}

func NewPaymentService(store domain.PaymentStore, processor domain.PaymentProcessor, log *logger.Logger) PaymentService {
	return &paymentService{store: store, processor: processor, logger: log, now: time.Now}
}

// RecordPayment is idempotent on ID: recording a known payment returns the
// stored one.
func (s *paymentService) RecordPayment(ctx context.Context, p NewPayment) (*domain.Payment, error) {
	if p.TenantID == "" || p.MemberID == "" {
		return nil, errors.New("tenant id and member id are required")
	}
	if !p.Amount.IsPositive() {
		return nil, errors.New("payment amount must be positive")
	}
	if !p.Method.IsValid() {
		return nil, fmt.Errorf("unknown payment method %q", p.Method)
	}
	ctx = logger.WithTenantID(ctx, p.TenantID)

	if p.ID == "" {
		p.ID = uuid.New().String()
	} else if existing, err := s.store.GetPayment(ctx, p.TenantID, p.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = s.now()
	}

	payment := &domain.Payment{
		ID:              p.ID,
		TenantID:        p.TenantID,
		MemberID:        p.MemberID,
		Amount:          p.Amount.Round(),
		Method:          p.Method,
		Reference:       p.Reference,
		ReceivedAt:      p.ReceivedAt.UTC(),
		Status:          domain.PaymentStatusReceived,
		AppliedAmount:   money.Zero,
		UnappliedAmount: money.Zero,
	}
	err := s.store.CreatePayment(ctx, payment)
	if errors.Is(err, domain.ErrDuplicatePayment) {
		return s.store.GetPayment(ctx, p.TenantID, p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.logger.Info(ctx, "Payment received",
		"payment_id", payment.ID,
		"member_id", payment.MemberID,
		"amount", payment.Amount.String(),
		"method", string(payment.Method),
	)
	return payment, nil
}

// HandleWebhook verifies a processor callback and records successful
// charges. Other event types are acknowledged and ignored.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Payment, error) {
	event, err := s.processor.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	if event.Type != WebhookChargeSucceeded {
		s.logger.Debug(ctx, "Ignoring webhook", "event_id", event.ID, "type", event.Type)
		return nil, nil
	}

	return s.RecordPayment(ctx, NewPayment{
		ID:        "wh_" + event.ID,
		TenantID:  event.TenantID,
		MemberID:  event.MemberID,
		Amount:    event.Amount,
		Method:    domain.PaymentMethodCard,
		Reference: event.Reference,
	})
}

func (s *paymentService) GetPayment(ctx context.Context, tenantID, id string) (*domain.Payment, error) {
	return s.store.GetPayment(ctx, tenantID, id)
}
