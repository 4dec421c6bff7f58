// Package money provides an exact fixed-point amount type for every monetary
// computation. Values are backed by shopspring/decimal and are never converted
// through float64.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept when rounding to cents.
const Scale = 2

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount cannot be negative")
)

// Money is an exact decimal amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

var Zero = Money{}

func New(d decimal.Decimal) Money {
	return Money{d: d}
}

func FromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -Scale)}
}

// Parse parses a plain decimal string such as "1250.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseAmount parses user-supplied amounts. Currency symbols, currency codes,
// thousands separators and whitespace are stripped; accounting parentheses
// mark a negative value.
func ParseAmount(s string) (Money, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	for _, code := range []string{"CAD", "USD", "EUR", "GBP"} {
		cleaned = strings.ReplaceAll(cleaned, code, "")
	}

	var b strings.Builder
	for _, r := range cleaned {
		switch r {
		case '$', '€', '£', ',', ' ', '\t', '\u00a0':
			continue
		}
		b.WriteRune(r)
	}

	cleaned = b.String()
	if cleaned == "" || cleaned == "-" {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return Money{d: d}, nil
}

// ParseNonNegative is ParseAmount that also rejects values below zero.
func ParseNonNegative(s string) (Money, error) {
	m, err := ParseAmount(s)
	if err != nil {
		return Zero, err
	}
	if m.IsNegative() {
		return Zero, ErrNegativeAmount
	}
	return m, nil
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Mul multiplies by a rate or quantity. The result is not rounded.
func (m Money) Mul(f decimal.Decimal) Money { return Money{d: m.d.Mul(f)} }

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// Round rounds half away from zero to cents.
func (m Money) Round() Money { return Money{d: m.d.Round(Scale)} }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) String() string { return m.d.StringFixed(Scale) }

func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes as a quoted fixed-point string so no JSON consumer
// reads the amount as a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	if str == "" || str == "null" {
		*m = Zero
		return nil
	}
	parsed, err := ParseAmount(str)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores amounts as TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*m = parsed
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*m = parsed
	case int64:
		*m = FromInt(v)
	case float64:
		// REAL columns carry binary noise below the cent.
		*m = Money{d: decimal.NewFromFloat(v)}.Round()
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}
