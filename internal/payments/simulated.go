// Package payments holds PaymentProcessor implementations.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrDeclined         = errors.New("payment declined")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrMalformedWebhook = errors.New("malformed webhook")
)

// SimulatedProcessor stands in for a card/EFT gateway in development and
// tests. Requests are idempotent per IdempotencyKey and webhooks are signed
// with HMAC-SHA256 over the raw body.
type SimulatedProcessor struct {
	secret   []byte
	logger   *logger.Logger
	mu       sync.Mutex
	results  map[string]*domain.PaymentResult
	declined map[string]bool
}

var _ domain.PaymentProcessor = (*SimulatedProcessor)(nil)

func NewSimulatedProcessor(webhookSecret string, log *logger.Logger) *SimulatedProcessor {
	return &SimulatedProcessor{
		secret:   []byte(webhookSecret),
		logger:   log,
		results:  make(map[string]*domain.PaymentResult),
		declined: make(map[string]bool),
	}
}

// Decline makes every later request for the member fail with ErrDeclined.
func (p *SimulatedProcessor) Decline(memberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declined[memberID] = true
}

func (p *SimulatedProcessor) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.PaymentResult, error) {
	return p.execute(ctx, "ch", req.MemberID, req.IdempotencyKey, req.Amount.IsPositive())
}

func (p *SimulatedProcessor) Payout(ctx context.Context, req domain.PayoutRequest) (*domain.PaymentResult, error) {
	return p.execute(ctx, "po", req.MemberID, req.IdempotencyKey, req.Amount.IsPositive())
}

func (p *SimulatedProcessor) execute(ctx context.Context, prefix, memberID, key string, positive bool) (*domain.PaymentResult, error) {
	if !positive {
		return nil, ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declined[memberID] {
		return nil, ErrDeclined
	}
	if key != "" {
		if existing, ok := p.results[prefix+":"+key]; ok {
			return existing, nil
		}
	}

	result := &domain.PaymentResult{
		Reference: prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    "succeeded",
	}
	if key != "" {
		p.results[prefix+":"+key] = result
	}

	p.logger.Debug(ctx, "Simulated payment executed", "reference", result.Reference, "member_id", memberID)
	return result, nil
}

// Sign returns the signature header value for a webhook body.
func (p *SimulatedProcessor) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (p *SimulatedProcessor) VerifyWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return nil, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return nil, ErrInvalidSignature
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if event.ID == "" || event.TenantID == "" || event.MemberID == "" {
		return nil, fmt.Errorf("%w: missing id, tenant_id or member_id", ErrMalformedWebhook)
	}
	return &event, nil
}
