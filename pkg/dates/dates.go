// Package dates parses the date formats found in remittance and bank files.
package dates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date")

// Order resolves ambiguous numeric dates such as 03/04/2025.
type Order int

const (
	MonthFirst Order = iota
	DayFirst
)

func (o Order) String() string {
	if o == DayFirst {
		return "day_first"
	}
	return "month_first"
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "month_first", "mdy", "us":
		return MonthFirst, nil
	case "day_first", "dmy", "intl":
		return DayFirst, nil
	default:
		return MonthFirst, fmt.Errorf("unknown date order %q", s)
	}
}

var layouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2 Jan 2006",
}

// Parse returns the calendar date in UTC. Unambiguous layouts are tried
// first; numeric day/month/year triples are resolved with order.
func Parse(s string, order Order) (time.Time, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return truncate(t), nil
		}
	}

	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		nums[i] = n
	}

	var year, month, day int
	switch {
	case len(parts[0]) == 4:
		year, month, day = nums[0], nums[1], nums[2]
	case order == DayFirst:
		day, month, year = nums[0], nums[1], nums[2]
	default:
		month, day, year = nums[0], nums[1], nums[2]
	}

	if len(parts[2]) == 2 && len(parts[0]) != 4 {
		year += 2000
	}

	return build(year, month, day, s)
}

func build(year, month, day int, raw string) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
