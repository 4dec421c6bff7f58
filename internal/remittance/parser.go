// Package remittance turns employer remittance files into normalized records.
//
// Every format first extracts raw string fields for each row and then hands
// them to one validator, so CSV, Excel and XML rows obey the same rules. A bad
// row becomes a ParseError and parsing moves on to the next row.
package remittance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
)

type Parser struct {
	cfg    Config
	logger *logger.Logger
}

func NewParser(cfg Config, log *logger.Logger) *Parser {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	return &Parser{
		cfg:    cfg,
		logger: log,
	}
}

func (p *Parser) Config() Config {
	return p.cfg
}

// Parse dispatches to the parser for format. The returned error is only set
// for size limits and cancellation; everything else is reported in the result.
func (p *Parser) Parse(ctx context.Context, format Format, r io.Reader) (*domain.ParseResult, error) {
	switch format {
	case FormatCSV:
		return p.ParseCSV(ctx, r)
	case FormatExcel:
		return p.ParseExcel(ctx, r)
	case FormatXML:
		return p.ParseXML(ctx, r)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, format)
	}
}

func (p *Parser) readLimited(r io.Reader) ([]byte, error) {
	if p.cfg.MaxBytes > 0 {
		r = io.LimitReader(r, p.cfg.MaxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if p.cfg.MaxBytes > 0 && int64(len(data)) > p.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", domain.ErrFileTooLarge, p.cfg.MaxBytes)
	}
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), nil
}

// rawFields is the untyped view of one row shared by every format.
type rawFields struct {
	line          int
	employeeID    string
	employeeName  string
	memberNumber  string
	grossWages    string
	duesAmount    string
	periodStart   string
	periodEnd     string
	hoursWorked   string
	overtimeHours string
	raw           []string
}

func (p *Parser) validate(f rawFields) (domain.RemittanceRecord, *domain.ParseError) {
	fail := func(field, format string, args ...interface{}) (domain.RemittanceRecord, *domain.ParseError) {
		return domain.RemittanceRecord{}, &domain.ParseError{
			Line:    f.line,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			RawData: f.raw,
		}
	}

	if p.cfg.RequireEmployeeID && f.employeeID == "" {
		return fail("employee_id", "employee ID is required")
	}

	var missing []string
	for _, req := range []struct{ name, value string }{
		{"gross_wages", f.grossWages},
		{"dues_amount", f.duesAmount},
		{"period_start", f.periodStart},
		{"period_end", f.periodEnd},
	} {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return fail(missing[0], "missing required fields: %s", strings.Join(missing, ", "))
	}

	gross, err := money.ParseAmount(f.grossWages)
	if err != nil {
		return fail("gross_wages", "invalid amount %q", f.grossWages)
	}
	dues, err := money.ParseAmount(f.duesAmount)
	if err != nil {
		return fail("dues_amount", "invalid amount %q", f.duesAmount)
	}
	if gross.IsNegative() {
		return fail("gross_wages", "amounts cannot be negative")
	}
	if dues.IsNegative() {
		return fail("dues_amount", "amounts cannot be negative")
	}
	if p.cfg.MinDuesAmount != nil && dues.LessThan(*p.cfg.MinDuesAmount) {
		return fail("dues_amount", "dues amount %s below minimum %s", dues, *p.cfg.MinDuesAmount)
	}
	if p.cfg.MaxDuesAmount != nil && dues.GreaterThan(*p.cfg.MaxDuesAmount) {
		return fail("dues_amount", "dues amount %s exceeds maximum %s", dues, *p.cfg.MaxDuesAmount)
	}

	start, err := dates.Parse(f.periodStart, p.cfg.DateOrder)
	if err != nil {
		return fail("period_start", "invalid date %q", f.periodStart)
	}
	end, err := dates.Parse(f.periodEnd, p.cfg.DateOrder)
	if err != nil {
		return fail("period_end", "invalid date %q", f.periodEnd)
	}
	if end.Before(start) {
		return fail("period_end", "billing period end date must not precede start date")
	}

	hours, err := parseHours(f.hoursWorked)
	if err != nil {
		return fail("hours_worked", "%s", err.Error())
	}
	overtime, err := parseHours(f.overtimeHours)
	if err != nil {
		return fail("overtime_hours", "%s", err.Error())
	}

	return domain.RemittanceRecord{
		EmployeeID:         f.employeeID,
		EmployeeName:       f.employeeName,
		MemberNumber:       f.memberNumber,
		GrossWages:         gross,
		DuesAmount:         dues,
		BillingPeriodStart: start,
		BillingPeriodEnd:   end,
		HoursWorked:        hours,
		OvertimeHours:      overtime,
		RawLineNumber:      f.line,
	}, nil
}

func parseHours(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hours %q", s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("hours cannot be negative")
	}
	return &d, nil
}

// resultBuilder accumulates records and errors and enforces the row cap.
type resultBuilder struct {
	records []domain.RemittanceRecord
	errors  []domain.ParseError
	rows    int
	maxRows int
}

func newResultBuilder(maxRows int) *resultBuilder {
	return &resultBuilder{
		records: []domain.RemittanceRecord{},
		errors:  []domain.ParseError{},
		maxRows: maxRows,
	}
}

func (b *resultBuilder) countRow() error {
	b.rows++
	if b.maxRows > 0 && b.rows > b.maxRows {
		return fmt.Errorf("%w: limit is %d rows", domain.ErrTooManyRows, b.maxRows)
	}
	return nil
}

func (b *resultBuilder) fileError(message string) {
	b.errors = append(b.errors, domain.ParseError{Line: 0, Message: message})
}

func (b *resultBuilder) rowError(err domain.ParseError) {
	b.errors = append(b.errors, err)
}

func (b *resultBuilder) finish() *domain.ParseResult {
	summary := domain.ParseSummary{
		ValidRecords: len(b.records),
	}
	for _, e := range b.errors {
		if e.Line > 0 {
			summary.InvalidRecords++
		}
	}
	summary.TotalRecords = summary.ValidRecords + summary.InvalidRecords
	for _, rec := range b.records {
		summary.TotalDuesAmount = summary.TotalDuesAmount.Add(rec.DuesAmount)
		summary.TotalGrossWages = summary.TotalGrossWages.Add(rec.GrossWages)
	}

	return &domain.ParseResult{
		Success: len(b.errors) == 0,
		Records: b.records,
		Errors:  b.errors,
		Summary: summary,
	}
}

func (p *Parser) accept(b *resultBuilder, f rawFields) {
	record, perr := p.validate(f)
	if perr != nil {
		b.rowError(*perr)
		return
	}
	b.records = append(b.records, record)
}

func (p *Parser) logResult(ctx context.Context, format Format, result *domain.ParseResult) {
	p.logger.Info(ctx, "Remittance parsed",
		"format", format,
		"valid_records", result.Summary.ValidRecords,
		"invalid_records", result.Summary.InvalidRecords,
		"total_dues", result.Summary.TotalDuesAmount.String(),
	)
}

// rowAccessor reads a mapped field from a header-indexed row.
type rowAccessor struct {
	header map[string]int
	values []string
}

func (r rowAccessor) get(ref FieldRef) string {
	idx := -1
	switch {
	case ref.ByIndex:
		idx = ref.Index
	case ref.Name != "" && r.header != nil:
		if i, ok := r.header[normalizeHeader(ref.Name)]; ok {
			idx = i
		}
	}
	if idx < 0 || idx >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[idx])
}

func (r rowAccessor) fields(m FieldMapping, line int) rawFields {
	return rawFields{
		line:          line,
		employeeID:    r.get(m.EmployeeID),
		employeeName:  r.get(m.EmployeeName),
		memberNumber:  r.get(m.MemberNumber),
		grossWages:    r.get(m.GrossWages),
		duesAmount:    r.get(m.DuesAmount),
		periodStart:   r.get(m.PeriodStart),
		periodEnd:     r.get(m.PeriodEnd),
		hoursWorked:   r.get(m.HoursWorked),
		overtimeHours: r.get(m.OvertimeHours),
		raw:           append([]string(nil), r.values...),
	}
}

func indexHeader(cells []string) map[string]int {
	header := make(map[string]int, len(cells))
	for i, cell := range cells {
		key := normalizeHeader(cell)
		if _, exists := header[key]; !exists {
			header[key] = i
		}
	}
	return header
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

func isBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
