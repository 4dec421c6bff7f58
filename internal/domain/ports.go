package domain

import (
	"context"
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type ChargeRequest struct {
	TenantID       string
	MemberID       string
	Amount         money.Money
	Currency       string
	Description    string
	IdempotencyKey string
}

type PayoutRequest struct {
	TenantID       string
	MemberID       string
	Amount         money.Money
	Currency       string
	Description    string
	IdempotencyKey string
}

type PaymentResult struct {
	Reference string
	Status    string
}

type WebhookEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Reference string      `json:"reference"`
	TenantID  string      `json:"tenant_id"`
	MemberID  string      `json:"member_id"`
	Amount    money.Money `json:"amount"`
}

// PaymentProcessor is the gateway used to move money in and out.
type PaymentProcessor interface {
	Charge(ctx context.Context, req ChargeRequest) (*PaymentResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PaymentResult, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type NotificationKind string

const (
	NotificationArrears NotificationKind = "arrears"
	NotificationReceipt NotificationKind = "payment_receipt"
	NotificationStipend NotificationKind = "stipend"
)

type Notification struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenant_id"`
	MemberID string            `json:"member_id"`
	Kind     NotificationKind  `json:"kind"`
	Subject  string            `json:"subject"`
	Data     map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type AuditEvent struct {
	TenantID   string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]interface{}
	OccurredAt time.Time
}

type AuditLogger interface {
	Record(ctx context.Context, event AuditEvent) error
}
