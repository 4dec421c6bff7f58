package erp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/xuri/excelize/v2"
)

// WorkbookConnector exports each journal entry as an .xlsx file in a
// directory, in the column layout accounting packages accept for journal
// imports. When a chart of accounts is given it also validates accounts.
type WorkbookConnector struct {
	dir      string
	accounts map[string]bool
	logger   *logger.Logger
}

func NewWorkbookConnector(dir string, chartOfAccounts []string, log *logger.Logger) (*WorkbookConnector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	c := &WorkbookConnector{dir: dir, logger: log}
	if len(chartOfAccounts) > 0 {
		c.accounts = make(map[string]bool, len(chartOfAccounts))
		for _, a := range chartOfAccounts {
			c.accounts[a] = true
		}
	}
	return c, nil
}

func (c *WorkbookConnector) Name() string { return "workbook" }

func (c *WorkbookConnector) Supports(capability Capability) bool {
	switch capability {
	case CapabilityJournalExport:
		return true
	case CapabilityAccountValidation:
		return c.accounts != nil
	default:
		return false
	}
}

func (c *WorkbookConnector) ValidateJournalEntry(_ context.Context, entry *domain.JournalEntry) ([]string, error) {
	if c.accounts == nil {
		return nil, ErrUnsupportedCapability
	}
	unknown := map[string]bool{}
	for _, line := range entry.Lines {
		if !c.accounts[line.AccountID] {
			unknown[line.AccountID] = true
		}
	}
	problems := make([]string, 0, len(unknown))
	for account := range unknown {
		problems = append(problems, fmt.Sprintf("account %q is not in the chart of accounts", account))
	}
	sort.Strings(problems)
	return problems, nil
}

var exportHeader = []interface{}{"Entry Number", "Date", "Account", "Description", "Debit", "Credit", "Currency", "Reference"}

func (c *WorkbookConnector) ExportJournalEntry(ctx context.Context, entry *domain.JournalEntry) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for i, line := range entry.Lines {
		description := line.Description
		if description == "" {
			description = entry.Description
		}
		row := []interface{}{
			entry.EntryNumber,
			entry.EntryDate.Format("2006-01-02"),
			line.AccountID,
			description,
			line.DebitAmount.String(),
			line.CreditAmount.String(),
			entry.Currency,
			entry.Reference,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write line %d: %w", i+1, err)
		}
	}

	name := sanitizeFileName(entry.TenantID + "_" + entry.EntryNumber)
	path := filepath.Join(c.dir, name+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	c.logger.Info(ctx, "Journal entry exported", "entry_number", entry.EntryNumber, "path", path)
	return name, nil
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
