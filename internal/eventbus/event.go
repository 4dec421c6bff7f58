package eventbus

import (
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

type EventType string

const (
	EventTypeNotification EventType = "notification"
	EventTypeAudit        EventType = "audit"
)

// Event IDs must be deterministic for the business fact they describe so
// consumers can deduplicate redeliveries and re-runs.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TenantID  string      `json:"tenant_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

type NotificationEvent struct {
	Notification domain.Notification `json:"notification"`
}

type AuditEvent struct {
	Audit domain.AuditEvent `json:"audit"`
}

func NewNotificationEvent(n domain.Notification, at time.Time) Event {
	return Event{
		ID:        n.ID,
		Type:      EventTypeNotification,
		TenantID:  n.TenantID,
		Payload:   NotificationEvent{Notification: n},
		Timestamp: at,
	}
}

func NewAuditEvent(id string, a domain.AuditEvent) Event {
	return Event{
		ID:        id,
		Type:      EventTypeAudit,
		TenantID:  a.TenantID,
		Payload:   AuditEvent{Audit: a},
		Timestamp: a.OccurredAt,
	}
}
