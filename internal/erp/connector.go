// Package erp defines the outbound accounting-system port. Connectors
// advertise what they can do; callers check Supports before relying on a
// capability.
package erp

import (
	"context"
	"errors"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

type Capability string

const (
	CapabilityJournalExport     Capability = "journal_export"
	CapabilityAccountValidation Capability = "account_validation"
	CapabilityMemberSync        Capability = "member_sync"
)

var ErrUnsupportedCapability = errors.New("erp connector does not support this capability")

type Connector interface {
	Name() string
	Supports(capability Capability) bool
	// ValidateJournalEntry returns human-readable problems; an empty slice
	// means the ERP would accept the entry.
	ValidateJournalEntry(ctx context.Context, entry *domain.JournalEntry) ([]string, error)
	// ExportJournalEntry returns the ERP's identifier for the entry.
	ExportJournalEntry(ctx context.Context, entry *domain.JournalEntry) (string, error)
}

// Unsupported can be embedded by connectors that implement only part of
// Connector.
type Unsupported struct{}

func (Unsupported) Supports(Capability) bool { return false }

func (Unsupported) ValidateJournalEntry(context.Context, *domain.JournalEntry) ([]string, error) {
	return nil, ErrUnsupportedCapability
}

func (Unsupported) ExportJournalEntry(context.Context, *domain.JournalEntry) (string, error) {
	return "", ErrUnsupportedCapability
}
