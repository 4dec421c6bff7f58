package domain

import (
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

type CalculationType string

const (
	CalculationFlatRate      CalculationType = "flat_rate"
	CalculationPercentage    CalculationType = "percentage"
	CalculationTiered        CalculationType = "tiered"
	CalculationHourly        CalculationType = "hourly"
	CalculationCustomFormula CalculationType = "custom_formula"
	// CalculationOverride marks amounts taken from an assignment override.
	CalculationOverride CalculationType = "override"
)

type BillingFrequency string

const (
	BillingWeekly    BillingFrequency = "weekly"
	BillingBiweekly  BillingFrequency = "biweekly"
	BillingMonthly   BillingFrequency = "monthly"
	BillingQuarterly BillingFrequency = "quarterly"
	BillingAnnually  BillingFrequency = "annually"
)

const (
	BaseFieldGrossWages = "gross_wages"
	BaseFieldBaseSalary = "base_salary"
)

// Tier is one progressive bracket. A nil Max means the bracket is unbounded.
type Tier struct {
	Min        money.Money     `json:"min"`
	Max        *money.Money    `json:"max,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
	FlatAmount money.Money     `json:"flat_amount"`
}

type DuesRule struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name"`
	CalculationType  CalculationType  `json:"calculation_type"`
	FlatAmount       money.Money      `json:"flat_amount"`
	PercentageRate   decimal.Decimal  `json:"percentage_rate"`
	BaseField        string           `json:"base_field,omitempty"`
	HourlyRate       money.Money      `json:"hourly_rate"`
	OvertimeRate     *money.Money     `json:"overtime_rate,omitempty"`
	HoursPerPeriod   decimal.Decimal  `json:"hours_per_period"`
	Tiers            []Tier           `json:"tiers,omitempty"`
	Formula          string           `json:"formula,omitempty"`
	BillingFrequency BillingFrequency `json:"billing_frequency"`
	EffectiveFrom    time.Time        `json:"effective_from"`
	EffectiveTo      *time.Time       `json:"effective_to,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EffectiveOn reports whether the rule applies on the given date.
func (r DuesRule) EffectiveOn(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	d := DateOf(t)
	if d.Before(DateOf(r.EffectiveFrom)) {
		return false
	}
	return r.EffectiveTo == nil || !d.After(DateOf(*r.EffectiveTo))
}

type DuesAssignment struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	MemberID       string       `json:"member_id"`
	RuleID         string       `json:"rule_id"`
	EffectiveDate  time.Time    `json:"effective_date"`
	EndDate        *time.Time   `json:"end_date,omitempty"`
	OverrideAmount *money.Money `json:"override_amount,omitempty"`
	IsActive       bool         `json:"is_active"`
}

func (a DuesAssignment) ActiveOn(t time.Time) bool {
	if !a.IsActive {
		return false
	}
	d := DateOf(t)
	if d.Before(DateOf(a.EffectiveDate)) {
		return false
	}
	return a.EndDate == nil || !d.After(DateOf(*a.EndDate))
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusOverdue   TransactionStatus = "overdue"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusPaid || s == TransactionStatusCancelled
}

// DuesTransaction is the amount a member owes for one billing period.
// TotalAmount is Amount plus any LateFee.
type DuesTransaction struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	MemberID        string            `json:"member_id"`
	RuleID          string            `json:"rule_id,omitempty"`
	CalculationType CalculationType   `json:"calculation_type,omitempty"`
	Amount          money.Money       `json:"amount"`
	LateFee         money.Money       `json:"late_fee"`
	TotalAmount     money.Money       `json:"total_amount"`
	PaidAmount      money.Money       `json:"paid_amount"`
	PeriodStart     time.Time         `json:"period_start"`
	PeriodEnd       time.Time         `json:"period_end"`
	DueDate         time.Time         `json:"due_date"`
	Status          TransactionStatus `json:"status"`
	PaidDate        *time.Time        `json:"paid_date,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (t DuesTransaction) Outstanding() money.Money {
	return t.TotalAmount.Sub(t.PaidAmount)
}

type TransactionFilter struct {
	TenantID    string
	MemberID    string
	Statuses    []TransactionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}
