package service

import (
	"context"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/payments"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentService() (PaymentService, *payments.SimulatedProcessor, *storage.MemoryStore) {
	log := logger.NewNop()
	store := storage.NewMemoryStore()
	processor := payments.NewSimulatedProcessor("secret", log)
	return NewPaymentService(store, processor, log), processor, store
}

func TestRecordPayment(t *testing.T) {
	svc, _, store := newPaymentService()
	ctx := context.Background()
	received := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	p, err := svc.RecordPayment(ctx, NewPayment{
		ID: "p1", TenantID: "t1", MemberID: "M1",
		Amount: money.MustParse("60.004"), Method: domain.PaymentMethodACH, ReceivedAt: received,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusReceived, p.Status)
	assert.Equal(t, "60.00", p.Amount.String())

	again, err := svc.RecordPayment(ctx, NewPayment{
		ID: "p1", TenantID: "t1", MemberID: "M1", Amount: money.FromInt(999), Method: domain.PaymentMethodACH,
	})
	require.NoError(t, err)
	assert.Equal(t, "60.00", again.Amount.String())

	stored, err := store.GetPayment(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, received, stored.ReceivedAt)

	generated, err := svc.RecordPayment(ctx, NewPayment{TenantID: "t1", MemberID: "M2", Amount: money.FromInt(5), Method: domain.PaymentMethodCash})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestRecordPayment_SameIDAcrossTenants(t *testing.T) {
	svc, _, store := newPaymentService()
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, NewPayment{
		ID: "p1", TenantID: "tenant-a", MemberID: "M1", Amount: money.FromInt(40), Method: domain.PaymentMethodACH,
	})
	require.NoError(t, err)

	b, err := svc.RecordPayment(ctx, NewPayment{
		ID: "p1", TenantID: "tenant-b", MemberID: "M9", Amount: money.FromInt(75), Method: domain.PaymentMethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-b", b.TenantID)
	assert.Equal(t, "75.00", b.Amount.String())

	a, err := store.GetPayment(ctx, "tenant-a", "p1")
	require.NoError(t, err)
	assert.Equal(t, "M1", a.MemberID)
	assert.Equal(t, "40.00", a.Amount.String())
	assert.Equal(t, domain.PaymentMethodACH, a.Method)
}

func TestRecordPayment_Rejects(t *testing.T) {
	svc, _, _ := newPaymentService()
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewPayment
	}{
		{"no tenant", NewPayment{MemberID: "M1", Amount: money.FromInt(1), Method: domain.PaymentMethodCard}},
		{"no member", NewPayment{TenantID: "t1", Amount: money.FromInt(1), Method: domain.PaymentMethodCard}},
		{"zero amount", NewPayment{TenantID: "t1", MemberID: "M1", Amount: money.Zero, Method: domain.PaymentMethodCard}},
		{"unknown method", NewPayment{TenantID: "t1", MemberID: "M1", Amount: money.FromInt(1), Method: "barter"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPayment(ctx, tt.in)
			assert.Error(t, err)
		})
	}
}

func TestHandleWebhook(t *testing.T) {
	svc, processor, _ := newPaymentService()
	ctx := context.Background()

	body := []byte(`{"id":"evt_1","type":"charge.succeeded","reference":"ch_1","tenant_id":"t1","member_id":"M1","amount":"50.00"}`)

	p, err := svc.HandleWebhook(ctx, body, processor.Sign(body))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "wh_evt_1", p.ID)
	assert.Equal(t, domain.PaymentMethodCard, p.Method)
	assert.Equal(t, "ch_1", p.Reference)

	replay, err := svc.HandleWebhook(ctx, body, processor.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, p.ID, replay.ID)

	_, err = svc.HandleWebhook(ctx, body, "sha256=00")
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)

	refund := []byte(`{"id":"evt_2","type":"charge.refunded","tenant_id":"t1","member_id":"M1","amount":"50.00"}`)
	p, err = svc.HandleWebhook(ctx, refund, processor.Sign(refund))
	require.NoError(t, err)
	assert.Nil(t, p)
}
