package notify

import (
	"context"
	"os"
	"testing"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return logger.NewFromZap(zap.New(core)), logs
}

func TestLogNotifier(t *testing.T) {
	log, logs := observedLogger()
	n := NewLogNotifier(log)

	err := n.Send(context.Background(), domain.Notification{
		ID:       "arrears:a1:warning:50.00",
		TenantID: "t1",
		MemberID: "M1",
		Kind:     domain.NotificationArrears,
		Subject:  "Your dues are overdue",
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("Notification sent").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "M1", fields["member_id"])
}

func TestAuditLog(t *testing.T) {
	log, logs := observedLogger()
	a := NewAuditLog(log)

	err := a.Record(context.Background(), domain.AuditEvent{
		TenantID:   "t1",
		Actor:      "steward@local42",
		Action:     "stipend.approved",
		EntityType: "stipend",
		EntityID:   "s1",
		Details:    map[string]interface{}{"amount": "400.00"},
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("Audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "stipend.approved", fields["action"])
	assert.Equal(t, "400.00", fields["detail_amount"])
	assert.Equal(t, "t1", fields["tenant_id"])
}

func TestStreamNotifier(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	n := NewStreamNotifier(rdb, "test:notifications:", 100)
	key := n.StreamKey("t-stream")
	defer rdb.Del(ctx, key)

	require.NoError(t, n.Send(ctx, domain.Notification{ID: "n1", TenantID: "t-stream", MemberID: "M1", Kind: domain.NotificationReceipt}))

	msgs, err := rdb.XRange(ctx, key, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "n1", msgs[0].Values["id"])
	assert.Equal(t, "payment_receipt", msgs[0].Values["kind"])
}
