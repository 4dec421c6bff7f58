// Package banking imports bank statement exports (bank-specific CSV layouts
// and OFX) into a common transaction shape for reconciliation.
package banking

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type Format string

const (
	FormatGeneric    Format = "generic"
	FormatTD         Format = "td"
	FormatRBC        Format = "rbc"
	FormatScotiabank Format = "scotiabank"
	FormatBMO        Format = "bmo"
	FormatOFX        Format = "ofx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatGeneric:
		return FormatGeneric, nil
	case FormatTD, FormatRBC, FormatScotiabank, FormatBMO, FormatOFX:
		return f, nil
	case "scotia":
		return FormatScotiabank, nil
	default:
		return "", fmt.Errorf("%w: bank format %q", domain.ErrUnsupportedFormat, s)
	}
}

type TransactionType string

const (
	TransactionDebit  TransactionType = "debit"
	TransactionCredit TransactionType = "credit"
)

// Transaction is one statement line. Amount is always non-negative; the
// direction is carried by Type.
type Transaction struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	PostingDate *time.Time      `json:"posting_date,omitempty"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	Amount      money.Money     `json:"amount"`
	Type        TransactionType `json:"type"`
	Balance     *money.Money    `json:"balance,omitempty"`
}

type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Format       Format        `json:"format"`
	Transactions []Transaction `json:"transactions"`
	Skipped      []SkippedRow  `json:"skipped"`
}

type Importer struct {
	dateOrder dates.Order
	maxBytes  int64
	logger    *logger.Logger
}

func NewImporter(dateOrder dates.Order, maxBytes int64, log *logger.Logger) *Importer {
	return &Importer{
		dateOrder: dateOrder,
		maxBytes:  maxBytes,
		logger:    log,
	}
}

// Import reads a statement in the given format.
func (im *Importer) Import(ctx context.Context, format Format, r io.Reader) (*ImportResult, error) {
	if format == FormatOFX {
		return im.ImportOFX(ctx, r)
	}
	return im.ImportCSV(ctx, format, r)
}

// layout lists candidate header names per field; the first present wins.
// Description columns are all joined.
type layout struct {
	prefix      string
	date        []string
	postingDate []string
	description []string
	amount      []string
	balance     []string
	reference   []string
}

var layouts = map[Format]layout{
	FormatTD: {
		prefix:      "td",
		date:        []string{"date"},
		description: []string{"description"},
		amount:      []string{"amount"},
		balance:     []string{"balance"},
		reference:   []string{"reference"},
	},
	FormatRBC: {
		prefix:      "rbc",
		date:        []string{"transaction date"},
		postingDate: []string{"posting date"},
		description: []string{"description 1", "description 2"},
		amount:      []string{"amount", "cad$"},
	},
	FormatScotiabank: {
		prefix:      "scotia",
		date:        []string{"trans date", "date"},
		description: []string{"transaction details", "description"},
		amount:      []string{"amount"},
	},
	FormatBMO: {
		prefix:      "bmo",
		date:        []string{"posted date", "date posted"},
		description: []string{"description"},
		amount:      []string{"amount", "cad$", "transaction amount"},
	},
}

func (im *Importer) ImportCSV(ctx context.Context, format Format, r io.Reader) (*ImportResult, error) {
	data, err := im.read(r)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	headerRow, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read statement header: %w", err)
	}
	header := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := header[key]; !exists {
			header[key] = i
		}
	}

	lay, ok := layouts[format]
	if !ok {
		lay = detectLayout(headerRow)
		format = FormatGeneric
	}

	result := &ImportResult{
		Format:       format,
		Transactions: []Transaction{},
		Skipped:      []SkippedRow{},
	}

	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.StartLine
			}
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)

		tx, reason := im.buildTransaction(lay, header, row, index)
		index++
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: reason})
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}

	im.logger.Info(ctx, "Bank statement imported",
		"format", format,
		"transactions", len(result.Transactions),
		"skipped", len(result.Skipped),
	)

	return result, nil
}

func (im *Importer) buildTransaction(lay layout, header map[string]int, row []string, index int) (Transaction, string) {
	get := func(names []string) string {
		for _, name := range names {
			if i, ok := header[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}

	rawDate := get(lay.date)
	date, err := dates.Parse(rawDate, im.dateOrder)
	if err != nil {
		return Transaction{}, fmt.Sprintf("invalid date %q", rawDate)
	}

	rawAmount := get(lay.amount)
	amount, err := money.ParseAmount(rawAmount)
	if err != nil {
		return Transaction{}, fmt.Sprintf("invalid amount %q", rawAmount)
	}

	var parts []string
	for _, name := range lay.description {
		if v := get([]string{name}); v != "" {
			parts = append(parts, v)
		}
	}

	tx := Transaction{
		ID:          fmt.Sprintf("%s-%d", lay.prefix, index),
		Date:        date,
		Description: strings.Join(parts, " "),
		Reference:   get(lay.reference),
		Amount:      amount.Abs(),
		Type:        TransactionCredit,
	}
	if amount.IsNegative() {
		tx.Type = TransactionDebit
	}

	if raw := get(lay.postingDate); raw != "" {
		if posted, err := dates.Parse(raw, im.dateOrder); err == nil {
			tx.PostingDate = &posted
		}
	}
	if raw := get(lay.balance); raw != "" {
		if balance, err := money.ParseAmount(raw); err == nil {
			tx.Balance = &balance
		}
	}

	return tx, ""
}

// detectLayout finds date, description and amount columns by header
// substring for banks without a known layout.
func detectLayout(headerRow []string) layout {
	lay := layout{prefix: "generic"}
	for _, h := range headerRow {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case lay.date == nil && strings.Contains(key, "date"):
			lay.date = []string{key}
		case lay.description == nil && (strings.Contains(key, "desc") || strings.Contains(key, "memo") || strings.Contains(key, "details")):
			lay.description = []string{key}
		case lay.amount == nil && strings.Contains(key, "amount"):
			lay.amount = []string{key}
		case lay.balance == nil && strings.Contains(key, "balance"):
			lay.balance = []string{key}
		case lay.reference == nil && strings.Contains(key, "ref"):
			lay.reference = []string{key}
		}
	}
	return lay
}

func (im *Importer) read(r io.Reader) ([]byte, error) {
	if im.maxBytes > 0 {
		r = io.LimitReader(r, im.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement: %w", err)
	}
	if im.maxBytes > 0 && int64(len(data)) > im.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", domain.ErrFileTooLarge, im.maxBytes)
	}
	return data, nil
}
