package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArrearsStage(t *testing.T, cfg ArrearsConfig) (*ArrearsStage, *storage.MemoryStore, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	stage := NewArrearsStage(store, pub, cfg, logger.NewNop())
	stage.now = clock(time.Date(2025, time.June, 1, 3, 0, 0, 0, time.UTC))
	return stage, store, pub
}

// January dues fall due on 2025-02-15.
func asOf(daysAfterJanDue int) ArrearsParams {
	return ArrearsParams{TenantID: "t1", AsOf: domain.NewDate(2025, 2, 15).AddDate(0, 0, daysAfterJanDue)}
}

func TestProcessArrears_StageBoundary(t *testing.T) {
	tests := []struct {
		days int
		want domain.NotificationStage
	}{
		{1, domain.StageReminder},
		{29, domain.StageReminder},
		{30, domain.StageWarning},
		{60, domain.StageFinal},
		{90, domain.StageCollections},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			stage, store, _ := newArrearsStage(t, DefaultArrearsConfig())
			ctx := context.Background()
			require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

			_, err := stage.ProcessArrears(ctx, asOf(tt.days))
			require.NoError(t, err)

			arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, arrears.NotificationStage)
		})
	}
}

func TestProcessArrears_NotYetDueIsIgnored(t *testing.T) {
	stage, store, pub := newArrearsStage(t, DefaultArrearsConfig())
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

	summary, err := stage.ProcessArrears(ctx, asOf(0))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["marked_overdue"])
	assert.Empty(t, pub.events)

	_, err = store.GetActiveArrears(ctx, "t1", "M1")
	assert.ErrorIs(t, err, domain.ErrArrearsNotFound)
}

func TestProcessArrears_AccumulatesPerMember(t *testing.T) {
	stage, store, pub := newArrearsStage(t, DefaultArrearsConfig())
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("feb", "M1", time.February, 50, domain.TransactionStatusPending)))
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan2", "M2", time.January, 30, domain.TransactionStatusPending)))

	summary, err := stage.ProcessArrears(ctx, asOf(40))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts["marked_overdue"])
	assert.Equal(t, 2, summary.Counts["arrears_created"])

	arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", arrears.TotalOwed.String())
	assert.Equal(t, domain.NewDate(2025, 2, 15), arrears.OldestDebtDate)
	assert.Equal(t, domain.StageWarning, arrears.NotificationStage)
	assert.NotNil(t, arrears.LastContactDate)

	notes := pub.notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, domain.NotificationArrears, notes[0].Kind)
	assert.Equal(t, ArrearsNotificationID(arrears), notes[0].ID)

	tx, err := store.GetDuesTransaction(ctx, "t1", "feb")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusOverdue, tx.Status)
}

func TestProcessArrears_RerunIsNoop(t *testing.T) {
	stage, store, pub := newArrearsStage(t, DefaultArrearsConfig())
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

	_, err := stage.ProcessArrears(ctx, asOf(10))
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	summary, err := stage.ProcessArrears(ctx, asOf(10))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts["marked_overdue"])
	assert.Equal(t, 0, summary.Counts["arrears_updated"])
	assert.Equal(t, 0, summary.Counts["escalated"])
	assert.Len(t, pub.events, 1)

	arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", arrears.TotalOwed.String())
}

func TestProcessArrears_AddsToExistingAndEscalates(t *testing.T) {
	stage, store, pub := newArrearsStage(t, DefaultArrearsConfig())
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

	_, err := stage.ProcessArrears(ctx, asOf(5))
	require.NoError(t, err)

	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("feb", "M1", time.February, 50, domain.TransactionStatusPending)))
	summary, err := stage.ProcessArrears(ctx, asOf(35))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["arrears_updated"])

	arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", arrears.TotalOwed.String())
	assert.Equal(t, domain.StageWarning, arrears.NotificationStage)

	summary, err = stage.ProcessArrears(ctx, asOf(61))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["escalated"])

	arrears, err = store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFinal, arrears.NotificationStage)

	notes := pub.notifications()
	require.Len(t, notes, 3)
	assert.NotEqual(t, notes[1].ID, notes[2].ID)
}

func TestProcessArrears_LateFee(t *testing.T) {
	cfg := DefaultArrearsConfig()
	cfg.LateFeeRate = decimal.RequireFromString("0.05")
	stage, store, _ := newArrearsStage(t, cfg)
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

	summary, err := stage.ProcessArrears(ctx, asOf(3))
	require.NoError(t, err)
	assert.Equal(t, "2.50", summary.Amounts["late_fees"].String())

	tx, err := store.GetDuesTransaction(ctx, "t1", "jan")
	require.NoError(t, err)
	assert.Equal(t, "52.50", tx.TotalAmount.String())

	arrears, err := store.GetActiveArrears(ctx, "t1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "52.50", arrears.TotalOwed.String())
}

func TestProcessArrears_DroppedNotificationIsWarning(t *testing.T) {
	stage, store, pub := newArrearsStage(t, DefaultArrearsConfig())
	pub.err = eventbus.ErrChannelFull
	ctx := context.Background()
	require.NoError(t, store.CreateDuesTransaction(ctx, monthlyTx("jan", "M1", time.January, 50, domain.TransactionStatusPending)))

	summary, err := stage.ProcessArrears(ctx, asOf(3))
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Len(t, summary.Warnings, 1)
	assert.Equal(t, 1, summary.Counts["arrears_created"])
}
