package remittance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// ParseExcel reads the first sheet of a workbook. Line numbers are sheet
// row numbers.
func (p *Parser) ParseExcel(ctx context.Context, r io.Reader) (*domain.ParseResult, error) {
	data, err := p.readLimited(r)
	if err != nil {
		return nil, err
	}

	b := newResultBuilder(p.cfg.MaxRows)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		b.fileError(fmt.Sprintf("Excel parsing failed: %v", err))
		return b.finish(), nil
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		b.fileError("Excel parsing failed: workbook has no sheets")
		return b.finish(), nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		b.fileError(fmt.Sprintf("Excel parsing failed: %v", err))
		return b.finish(), nil
	}

	mapping := p.cfg.mapping()
	start := p.cfg.SkipLines

	var header map[string]int
	if p.cfg.HasHeader && start < len(rows) {
		header = indexHeader(rows[start])
		start++
	}

	for i := start; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isBlank(rows[i]) {
			continue
		}
		if err := b.countRow(); err != nil {
			return nil, err
		}

		row := rowAccessor{header: header, values: rows[i]}
		fields := row.fields(mapping, i+1)
		fields.periodStart = fromSerialDate(fields.periodStart)
		fields.periodEnd = fromSerialDate(fields.periodEnd)
		p.accept(b, fields)
	}

	result := b.finish()
	p.logResult(ctx, FormatExcel, result)
	return result, nil
}

// fromSerialDate converts unformatted date cells, which come back as Excel
// serial day numbers, into ISO dates.
func fromSerialDate(v string) string {
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil || serial < 20000 || serial > 80000 {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return t.Format("2006-01-02")
}
