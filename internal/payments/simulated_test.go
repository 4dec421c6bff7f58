package payments

import (
	"context"
	"testing"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayout_IdempotentPerKey(t *testing.T) {
	p := NewSimulatedProcessor("secret", logger.NewNop())
	ctx := context.Background()
	req := domain.PayoutRequest{TenantID: "t1", MemberID: "M1", Amount: money.FromInt(100), IdempotencyKey: "stipend:s1"}

	first, err := p.Payout(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, first.Reference, "po_")

	second, err := p.Payout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)

	req.IdempotencyKey = "stipend:s2"
	third, err := p.Payout(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Reference, third.Reference)
}

func TestCharge_Rejections(t *testing.T) {
	p := NewSimulatedProcessor("secret", logger.NewNop())
	ctx := context.Background()

	_, err := p.Charge(ctx, domain.ChargeRequest{MemberID: "M1", Amount: money.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	p.Decline("M2")
	_, err = p.Charge(ctx, domain.ChargeRequest{MemberID: "M2", Amount: money.FromInt(5)})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestVerifyWebhook(t *testing.T) {
	p := NewSimulatedProcessor("secret", logger.NewNop())
	body := []byte(`{"id":"evt_1","type":"payment.succeeded","reference":"ch_1","tenant_id":"t1","member_id":"M1","amount":"50.00"}`)

	event, err := p.VerifyWebhook(body, p.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "50.00", event.Amount.String())

	_, err = p.VerifyWebhook(body, "sha256=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = p.VerifyWebhook(body, "not-hex")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other := NewSimulatedProcessor("other", logger.NewNop())
	_, err = p.VerifyWebhook(body, other.Sign(body))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	missing := []byte(`{"id":"evt_2"}`)
	_, err = p.VerifyWebhook(missing, p.Sign(missing))
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	garbled := []byte(`{"id":`)
	_, err = p.VerifyWebhook(garbled, p.Sign(garbled))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}
