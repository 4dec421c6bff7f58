package domain

import (
	"fmt"
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

// RemittanceRecord is one normalized row of an employer remittance file.
type RemittanceRecord struct {
	EmployeeID         string           `json:"employee_id"`
	EmployeeName       string           `json:"employee_name,omitempty"`
	MemberNumber       string           `json:"member_number,omitempty"`
	GrossWages         money.Money      `json:"gross_wages"`
	DuesAmount         money.Money      `json:"dues_amount"`
	BillingPeriodStart time.Time        `json:"billing_period_start"`
	BillingPeriodEnd   time.Time        `json:"billing_period_end"`
	HoursWorked        *decimal.Decimal `json:"hours_worked,omitempty"`
	OvertimeHours      *decimal.Decimal `json:"overtime_hours,omitempty"`
	RawLineNumber      int              `json:"raw_line_number"`
}

// MemberRef is the identifier used to tie a record to a member.
func (r RemittanceRecord) MemberRef() string {
	if r.MemberNumber != "" {
		return r.MemberNumber
	}
	return r.EmployeeID
}

// ParseError describes a row that could not be turned into a record.
// Line 0 means the file itself could not be read.
type ParseError struct {
	Line    int      `json:"line"`
	Field   string   `json:"field,omitempty"`
	Message string   `json:"message"`
	RawData []string `json:"raw_data,omitempty"`
}

func (e ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type ParseSummary struct {
	TotalRecords    int         `json:"total_records"`
	ValidRecords    int         `json:"valid_records"`
	InvalidRecords  int         `json:"invalid_records"`
	TotalDuesAmount money.Money `json:"total_dues_amount"`
	TotalGrossWages money.Money `json:"total_gross_wages"`
}

// ParseResult is usable but incomplete when both Records and Errors are
// non-empty; Success is only true when Errors is empty.
type ParseResult struct {
	Success bool               `json:"success"`
	Records []RemittanceRecord `json:"records"`
	Errors  []ParseError       `json:"errors"`
	Summary ParseSummary       `json:"summary"`
}

type RemittanceStatus string

const (
	RemittanceStatusUploaded    RemittanceStatus = "uploaded"
	RemittanceStatusProcessing  RemittanceStatus = "processing"
	RemittanceStatusMatched     RemittanceStatus = "matched"
	RemittanceStatusDiscrepancy RemittanceStatus = "discrepancy"
	RemittanceStatusCompleted   RemittanceStatus = "completed"
)

// Remittance is a stored employer submission.
type Remittance struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	EmployerID      string             `json:"employer_id"`
	FileName        string             `json:"file_name"`
	Format          string             `json:"format"`
	Status          RemittanceStatus   `json:"status"`
	PeriodStart     time.Time          `json:"period_start"`
	PeriodEnd       time.Time          `json:"period_end"`
	TotalDuesAmount money.Money        `json:"total_dues_amount"`
	Records         []RemittanceRecord `json:"records"`
	CreatedAt       time.Time          `json:"created_at"`
}

// WageData is the wage and hours context of a member for a billing period.
type WageData struct {
	GrossWages    money.Money     `json:"gross_wages"`
	HoursWorked   decimal.Decimal `json:"hours_worked"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
}
