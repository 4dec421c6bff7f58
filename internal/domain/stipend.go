package domain

import (
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

type StrikeFund struct {
	ID                     string          `json:"id"`
	TenantID               string          `json:"tenant_id"`
	Name                   string          `json:"name"`
	CurrentBalance         money.Money     `json:"current_balance"`
	MinimumAttendanceHours decimal.Decimal `json:"minimum_attendance_hours"`
	IsActive               bool            `json:"is_active"`
}

// PicketAttendance is one check-in on a picket line. Only approved rows
// count toward stipends.
type PicketAttendance struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	MemberID string          `json:"member_id"`
	FundID   string          `json:"fund_id"`
	Date     time.Time       `json:"date"`
	Hours    decimal.Decimal `json:"hours"`
	Approved bool            `json:"approved"`
}

type StipendStatus string

const (
	StipendStatusPendingApproval StipendStatus = "pending_approval"
	StipendStatusApproved        StipendStatus = "approved"
	StipendStatusDisbursed       StipendStatus = "disbursed"
	StipendStatusFailed          StipendStatus = "failed"
)

// StipendDisbursement is unique per member, fund and ISO week.
type StipendDisbursement struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	MemberID         string        `json:"member_id"`
	FundID           string        `json:"fund_id"`
	WeekStart        time.Time     `json:"week_start"`
	WeekEnd          time.Time     `json:"week_end"`
	DaysWorked       int           `json:"days_worked"`
	CalculatedAmount money.Money   `json:"calculated_amount"`
	Status           StipendStatus `json:"status"`
	ApprovedBy       string        `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	DisbursedAt      *time.Time    `json:"disbursed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
