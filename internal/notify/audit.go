package notify

import (
	"context"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
)

// AuditLog records audit events as structured log lines.
type AuditLog struct {
	logger *logger.Logger
	now    func() time.Time
}

func NewAuditLog(log *logger.Logger) *AuditLog {
	return &AuditLog{logger: log, now: time.Now}
}

func (a *AuditLog) Record(ctx context.Context, event domain.AuditEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}

	if event.TenantID != "" && logger.GetTenantID(ctx) == "" {
		ctx = logger.WithTenantID(ctx, event.TenantID)
	}

	fields := []interface{}{
		"audit", true,
		"actor", event.Actor,
		"action", event.Action,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"occurred_at", event.OccurredAt,
	}
	for k, v := range event.Details {
		fields = append(fields, "detail_"+k, v)
	}

	a.logger.Info(ctx, "Audit", fields...)
	return nil
}
