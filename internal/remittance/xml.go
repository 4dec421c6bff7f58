package remittance

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/grachmannico95/dues-ledger/internal/domain"
)

// xmlNode is a schemaless element tree; employer XML/EDI exports do not share
// a schema, so records are located by path and fields by alias.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Content string     `xml:",chardata"`
}

// Known record paths, tried in order.
var xmlRecordPaths = [][3]string{
	{"Remittance", "Employees", "Employee"},
	{"remittance", "employees", "employee"},
	{"EmployerRemittance", "Records", "Record"},
}

var xmlAliases = struct {
	employeeID, employeeName, memberNumber, grossWages, duesAmount,
	periodStart, periodEnd, hoursWorked, overtimeHours []string
}{
	employeeID:    []string{"employeeId", "id"},
	employeeName:  []string{"employeeName", "name"},
	memberNumber:  []string{"memberNumber", "memberId"},
	grossWages:    []string{"grossWages", "wages"},
	duesAmount:    []string{"duesAmount", "dues"},
	periodStart:   []string{"periodStart", "billingPeriodStart"},
	periodEnd:     []string{"periodEnd", "billingPeriodEnd"},
	hoursWorked:   []string{"hoursWorked", "hours"},
	overtimeHours: []string{"overtimeHours", "overtime"},
}

func (p *Parser) ParseXML(ctx context.Context, r io.Reader) (*domain.ParseResult, error) {
	data, err := p.readLimited(r)
	if err != nil {
		return nil, err
	}

	b := newResultBuilder(p.cfg.MaxRows)

	var root xmlNode
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		b.fileError(fmt.Sprintf("XML parsing failed: %v", err))
		return b.finish(), nil
	}

	records, ok := findXMLRecords(root)
	if !ok {
		b.fileError(fmt.Sprintf("XML parsing failed: unrecognized root element <%s>", root.XMLName.Local))
		return b.finish(), nil
	}

	for i, node := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.countRow(); err != nil {
			return nil, err
		}
		p.accept(b, node.fields(i+1))
	}

	result := b.finish()
	p.logResult(ctx, FormatXML, result)
	return result, nil
}

func findXMLRecords(root xmlNode) ([]xmlNode, bool) {
	for _, path := range xmlRecordPaths {
		if root.XMLName.Local != path[0] {
			continue
		}
		var records []xmlNode
		for _, container := range root.children(path[1]) {
			records = append(records, container.children(path[2])...)
		}
		return records, true
	}
	return nil, false
}

func (n xmlNode) children(name string) []xmlNode {
	var out []xmlNode
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

// lookup returns the first child element or attribute matching one of the
// aliases, compared case-insensitively.
func (n xmlNode) lookup(aliases []string) string {
	for _, alias := range aliases {
		for _, c := range n.Nodes {
			if strings.EqualFold(c.XMLName.Local, alias) {
				return strings.TrimSpace(c.Content)
			}
		}
		for _, a := range n.Attrs {
			if strings.EqualFold(a.Name.Local, alias) {
				return strings.TrimSpace(a.Value)
			}
		}
	}
	return ""
}

func (n xmlNode) fields(line int) rawFields {
	raw := make([]string, 0, len(n.Nodes)+len(n.Attrs))
	for _, a := range n.Attrs {
		raw = append(raw, a.Name.Local+"="+a.Value)
	}
	for _, c := range n.Nodes {
		raw = append(raw, c.XMLName.Local+"="+strings.TrimSpace(c.Content))
	}

	return rawFields{
		line:          line,
		employeeID:    n.lookup(xmlAliases.employeeID),
		employeeName:  n.lookup(xmlAliases.employeeName),
		memberNumber:  n.lookup(xmlAliases.memberNumber),
		grossWages:    n.lookup(xmlAliases.grossWages),
		duesAmount:    n.lookup(xmlAliases.duesAmount),
		periodStart:   n.lookup(xmlAliases.periodStart),
		periodEnd:     n.lookup(xmlAliases.periodEnd),
		hoursWorked:   n.lookup(xmlAliases.hoursWorked),
		overtimeHours: n.lookup(xmlAliases.overtimeHours),
		raw:           raw,
	}
}
