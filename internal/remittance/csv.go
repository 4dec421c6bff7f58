package remittance

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

func (p *Parser) ParseCSV(ctx context.Context, r io.Reader) (*domain.ParseResult, error) {
	data, err := p.readLimited(r)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = p.cfg.Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	b := newResultBuilder(p.cfg.MaxRows)
	mapping := p.cfg.mapping()

	for i := 0; i < p.cfg.SkipLines; i++ {
		if _, err := reader.Read(); err == io.EOF {
			return b.finish(), nil
		}
	}

	var header map[string]int
	if p.cfg.HasHeader {
		cells, err := reader.Read()
		if err == io.EOF {
			return b.finish(), nil
		}
		if err != nil {
			b.fileError(fmt.Sprintf("CSV parsing failed: %v", err))
			return b.finish(), nil
		}
		header = indexHeader(cells)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.StartLine
			}
			// Continue processing other lines
			b.rowError(domain.ParseError{
				Line:    line,
				Message: fmt.Sprintf("malformed CSV row: %v", err),
			})
			continue
		}

		if isBlank(record) {
			continue
		}
		if err := b.countRow(); err != nil {
			return nil, err
		}

		line, _ := reader.FieldPos(0)
		row := rowAccessor{header: header, values: record}
		p.accept(b, row.fields(mapping, line))
	}

	result := b.finish()
	p.logResult(ctx, FormatCSV, result)
	return result, nil
}
