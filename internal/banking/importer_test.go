package banking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImporter() *Importer {
	return NewImporter(dates.MonthFirst, 1<<20, logger.NewNop())
}

func TestImportCSV_TD(t *testing.T) {
	content := "Date,Description,Amount,Balance,Reference\n" +
		"2025-01-15,DUES PAYMENT J SMITH,50.00,1050.00,REF1\n" +
		"2025-01-16,BANK FEE,-2.50,1047.50,REF2\n" +
		"not-a-date,BROKEN,1.00,,\n"

	result, err := newTestImporter().ImportCSV(context.Background(), FormatTD, strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 4, result.Skipped[0].Line)

	first := result.Transactions[0]
	assert.Equal(t, "td-0", first.ID)
	assert.Equal(t, TransactionCredit, first.Type)
	assert.Equal(t, "50.00", first.Amount.String())
	assert.Equal(t, "REF1", first.Reference)
	require.NotNil(t, first.Balance)
	assert.Equal(t, "1050.00", first.Balance.String())

	fee := result.Transactions[1]
	assert.Equal(t, TransactionDebit, fee.Type)
	assert.Equal(t, "2.50", fee.Amount.String())
}

func TestImportCSV_RBCJoinsDescriptions(t *testing.T) {
	content := "Account Type,Account Number,Transaction Date,Cheque Number,Description 1,Description 2,CAD$\n" +
		"Chequing,123,1/20/2025,,E-TRANSFER,LOCAL 42 DUES,75.00\n"

	result, err := newTestImporter().ImportCSV(context.Background(), FormatRBC, strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, result.Transactions, 1)
	tx := result.Transactions[0]
	assert.Equal(t, "rbc-0", tx.ID)
	assert.Equal(t, "E-TRANSFER LOCAL 42 DUES", tx.Description)
	assert.Equal(t, domain.NewDate(2025, time.January, 20), tx.Date)
}

func TestImportCSV_GenericDetection(t *testing.T) {
	content := "Posting Date,Memo,Txn Amount\n2025-02-01,Payroll remittance ACME,\"$1,250.00\"\n"

	result, err := newTestImporter().ImportCSV(context.Background(), "", strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, FormatGeneric, result.Format)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "generic-0", result.Transactions[0].ID)
	assert.Equal(t, "1250.00", result.Transactions[0].Amount.String())
	assert.Equal(t, "Payroll remittance ACME", result.Transactions[0].Description)
}

func TestImportCSV_TooLarge(t *testing.T) {
	im := NewImporter(dates.MonthFirst, 10, logger.NewNop())
	_, err := im.ImportCSV(context.Background(), FormatTD, strings.NewReader(strings.Repeat("a", 20)))
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)
}

func TestImportOFX(t *testing.T) {
	content := `OFXHEADER:100
<OFX><BANKMSGSRSV1><STMTTRNRS><STMTRS><BANKTRANLIST>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250115120000[-5:EST]
<TRNAMT>50.00
<FITID>FIT1
<NAME>J SMITH DUES
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250116
<TRNAMT>-12.34
<MEMO>SERVICE CHARGE
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
</STMTTRN>
<STMTTRN>
<TRNAMT>twelve
</STMTTRN>
</BANKTRANLIST></STMTRS></STMTTRNRS></BANKMSGSRSV1></OFX>`

	result, err := newTestImporter().ImportOFX(context.Background(), strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, result.Transactions, 3)
	require.Len(t, result.Skipped, 1)

	first := result.Transactions[0]
	assert.Equal(t, "ofx-0", first.ID)
	assert.Equal(t, "FIT1", first.Reference)
	assert.Equal(t, "J SMITH DUES", first.Description)
	assert.Equal(t, domain.NewDate(2025, time.January, 15), first.Date)

	second := result.Transactions[1]
	assert.Equal(t, TransactionDebit, second.Type)
	assert.Equal(t, "12.34", second.Amount.String())
	assert.Equal(t, "SERVICE CHARGE", second.Description)

	empty := result.Transactions[2]
	assert.True(t, empty.Amount.IsZero())
	assert.Empty(t, empty.Description)
	assert.True(t, empty.Date.IsZero())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Scotia")
	require.NoError(t, err)
	assert.Equal(t, FormatScotiabank, f)

	_, err = ParseFormat("cibc")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}
