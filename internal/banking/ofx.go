package banking

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

// OFX files are scraped by tag rather than parsed as SGML; banks emit too
// many dialects for a strict grammar.
var (
	stmtTrnPattern = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	ofxTagPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{"TRNTYPE", "TRNAMT", "DTPOSTED", "NAME", "MEMO", "FITID"} {
		ofxTagPatterns[tag] = regexp.MustCompile(`(?i)<` + tag + `>([^<\r\n]*)`)
	}
}

func ofxTag(block, tag string) string {
	m := ofxTagPatterns[tag].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ImportOFX extracts STMTTRN blocks. Missing tags default to empty values;
// blocks with unparseable amounts or dates are skipped.
func (im *Importer) ImportOFX(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := im.read(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Format:       FormatOFX,
		Transactions: []Transaction{},
		Skipped:      []SkippedRow{},
	}

	for i, m := range stmtTrnPattern.FindAllStringSubmatch(string(data), -1) {
		block := m[1]

		amount := money.Zero
		if raw := ofxTag(block, "TRNAMT"); raw != "" {
			parsed, err := money.ParseAmount(raw)
			if err != nil {
				result.Skipped = append(result.Skipped, SkippedRow{Line: i + 1, Reason: fmt.Sprintf("invalid amount %q", raw)})
				continue
			}
			amount = parsed
		}

		var posted time.Time
		if raw := ofxTag(block, "DTPOSTED"); raw != "" {
			if len(raw) > 8 {
				raw = raw[:8]
			}
			parsed, err := dates.Parse(raw, dates.MonthFirst)
			if err != nil {
				result.Skipped = append(result.Skipped, SkippedRow{Line: i + 1, Reason: fmt.Sprintf("invalid date %q", raw)})
				continue
			}
			posted = parsed
		}

		description := ofxTag(block, "NAME")
		if description == "" {
			description = ofxTag(block, "MEMO")
		}

		tx := Transaction{
			ID:          fmt.Sprintf("ofx-%d", i),
			Date:        posted,
			Description: description,
			Reference:   ofxTag(block, "FITID"),
			Amount:      amount.Abs(),
			Type:        TransactionCredit,
		}
		if amount.IsNegative() || strings.EqualFold(ofxTag(block, "TRNTYPE"), "DEBIT") {
			tx.Type = TransactionDebit
		}
		result.Transactions = append(result.Transactions, tx)
	}

	im.logger.Info(ctx, "OFX statement imported",
		"transactions", len(result.Transactions),
		"skipped", len(result.Skipped),
	)

	return result, nil
}
