package eventbus

import (
	"context"
	"fmt"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/retry"
)

// NotificationConsumer delivers workflow notifications at most once per
// event ID.
type NotificationConsumer struct {
	events      domain.EventStore
	notifier    domain.Notifier
	logger      *logger.Logger
	workerCount int
}

func NewNotificationConsumer(events domain.EventStore, notifier domain.Notifier, log *logger.Logger, workerCount int) *NotificationConsumer {
	return &NotificationConsumer{
		events:      events,
		notifier:    notifier,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *NotificationConsumer) Consume(ctx context.Context, event Event) error {
	var n domain.Notification
	switch p := event.Payload.(type) {
	case NotificationEvent:
		n = p.Notification
	case *NotificationEvent:
		n = p.Notification
	default:
		return retry.Permanent(fmt.Errorf("invalid payload type for notification event: %T", event.Payload))
	}

	processed, err := c.events.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to check event status: %w", err)
	}
	if processed {
		c.logger.Debug(ctx, "Notification already delivered, skipping", "event_id", event.ID)
		return nil
	}

	if err := c.notifier.Send(ctx, n); err != nil {
		c.logger.Warn(ctx, "Failed to deliver notification",
			"event_id", event.ID,
			"member_id", n.MemberID,
			"attempt", event.Retries+1,
			"error", err.Error(),
		)
		return err
	}

	if err := c.events.MarkEventProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	c.logger.Debug(ctx, "Notification delivered",
		"event_id", event.ID,
		"kind", n.Kind,
		"member_id", n.MemberID,
	)
	return nil
}

func (c *NotificationConsumer) GetWorkerCount() int {
	return c.workerCount
}

type AuditConsumer struct {
	audit       domain.AuditLogger
	workerCount int
}

func NewAuditConsumer(audit domain.AuditLogger, workerCount int) *AuditConsumer {
	return &AuditConsumer{audit: audit, workerCount: workerCount}
}

func (c *AuditConsumer) Consume(ctx context.Context, event Event) error {
	switch p := event.Payload.(type) {
	case AuditEvent:
		return c.audit.Record(ctx, p.Audit)
	case *AuditEvent:
		return c.audit.Record(ctx, p.Audit)
	default:
		return retry.Permanent(fmt.Errorf("invalid payload type for audit event: %T", event.Payload))
	}
}

func (c *AuditConsumer) GetWorkerCount() int {
	return c.workerCount
}
