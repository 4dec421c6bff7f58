// Package notify delivers member notifications and audit records.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// LogNotifier writes notifications to the structured log. It is the
// default when no delivery channel is configured.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Send(ctx context.Context, notification domain.Notification) error {
	if logger.GetTenantID(ctx) == "" {
		ctx = logger.WithTenantID(ctx, notification.TenantID)
	}
	n.logger.Info(ctx, "Notification sent",
		"notification_id", notification.ID,
		"member_id", notification.MemberID,
		"kind", notification.Kind,
		"subject", notification.Subject,
	)
	return nil
}

// StreamNotifier appends notifications to a per-tenant Redis stream that a
// delivery service (email, SMS) consumes.
type StreamNotifier struct {
	rdb    redis.UniversalClient
	prefix string
	maxLen int64
}

func NewStreamNotifier(rdb redis.UniversalClient, prefix string, maxLen int64) *StreamNotifier {
	return &StreamNotifier{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

func (n *StreamNotifier) StreamKey(tenantID string) string {
	return n.prefix + tenantID
}

func (n *StreamNotifier) Send(ctx context.Context, notification domain.Notification) error {
	data, err := json.Marshal(notification.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: n.StreamKey(notification.TenantID),
		Values: map[string]interface{}{
			"id":        notification.ID,
			"member_id": notification.MemberID,
			"kind":      string(notification.Kind),
			"subject":   notification.Subject,
			"data":      string(data),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
