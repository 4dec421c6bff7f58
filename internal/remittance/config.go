package remittance

import (
	"path/filepath"
	"strings"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
	FormatXML   Format = "xml"
)

// DetectFormat picks a parser from a file name extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm", ".xls":
		return FormatExcel, nil
	case ".xml", ".edi":
		return FormatXML, nil
	default:
		return "", domain.ErrUnsupportedFormat
	}
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatExcel, "xlsx":
		return FormatExcel, nil
	case FormatXML:
		return FormatXML, nil
	default:
		return "", domain.ErrUnsupportedFormat
	}
}

// FieldRef points at a column either by header name or by zero-based index.
type FieldRef struct {
	Name    string `json:"name,omitempty"`
	Index   int    `json:"index,omitempty"`
	ByIndex bool   `json:"by_index,omitempty"`
}

func Column(name string) FieldRef {
	return FieldRef{Name: name}
}

func Position(index int) FieldRef {
	return FieldRef{Index: index, ByIndex: true}
}

func (f FieldRef) IsSet() bool {
	return f.ByIndex || f.Name != ""
}

type FieldMapping struct {
	EmployeeID    FieldRef `json:"employee_id"`
	EmployeeName  FieldRef `json:"employee_name"`
	MemberNumber  FieldRef `json:"member_number"`
	GrossWages    FieldRef `json:"gross_wages"`
	DuesAmount    FieldRef `json:"dues_amount"`
	PeriodStart   FieldRef `json:"period_start"`
	PeriodEnd     FieldRef `json:"period_end"`
	HoursWorked   FieldRef `json:"hours_worked"`
	OvertimeHours FieldRef `json:"overtime_hours"`
}

// DefaultMapping is used for files with a header row.
func DefaultMapping() FieldMapping {
	return FieldMapping{
		EmployeeID:    Column("employee_id"),
		EmployeeName:  Column("employee_name"),
		MemberNumber:  Column("member_number"),
		GrossWages:    Column("gross_wages"),
		DuesAmount:    Column("dues_amount"),
		PeriodStart:   Column("period_start"),
		PeriodEnd:     Column("period_end"),
		HoursWorked:   Column("hours_worked"),
		OvertimeHours: Column("overtime_hours"),
	}
}

// PositionalMapping is used for headerless files: the columns appear in the
// same order as DefaultMapping.
func PositionalMapping() FieldMapping {
	return FieldMapping{
		EmployeeID:    Position(0),
		EmployeeName:  Position(1),
		MemberNumber:  Position(2),
		GrossWages:    Position(3),
		DuesAmount:    Position(4),
		PeriodStart:   Position(5),
		PeriodEnd:     Position(6),
		HoursWorked:   Position(7),
		OvertimeHours: Position(8),
	}
}

type Config struct {
	Delimiter         rune
	HasHeader         bool
	SkipLines         int
	Mapping           *FieldMapping
	DateOrder         dates.Order
	RequireEmployeeID bool
	MinDuesAmount     *money.Money
	MaxDuesAmount     *money.Money
	// MaxBytes and MaxRows of zero disable the limit.
	MaxBytes int64
	MaxRows  int
}

func DefaultConfig() Config {
	return Config{
		Delimiter:         ',',
		HasHeader:         true,
		RequireEmployeeID: true,
		DateOrder:         dates.MonthFirst,
		MaxBytes:          10 << 20,
		MaxRows:           50000,
	}
}

func (c Config) mapping() FieldMapping {
	if c.Mapping != nil {
		return *c.Mapping
	}
	if c.HasHeader {
		return DefaultMapping()
	}
	return PositionalMapping()
}
