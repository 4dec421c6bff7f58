package dues

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var ErrFormula = errors.New("invalid formula")

const (
	maxFormulaDepth = 32
	maxRoundPlaces  = 10
)

// FormulaVariables are the only identifiers a formula may reference.
var FormulaVariables = []string{
	"gross_wages",
	"base_salary",
	"hours_worked",
	"overtime_hours",
	"hourly_rate",
	"percentage_rate",
	"flat_amount",
}

func isFormulaVariable(name string) bool {
	for _, v := range FormulaVariables {
		if v == name {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: strings.ToLower(string(runes[start:i])), pos: start})
		case strings.ContainsRune("+-*/", r):
			tokens = append(tokens, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrFormula, r, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

// EvaluateFormula computes an arithmetic expression over decimal values.
// It supports + - * /, parentheses, unary minus and the functions min, max
// and round. Identifiers outside FormulaVariables are rejected.
func EvaluateFormula(formula string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(formula) == "" {
		return decimal.Zero, fmt.Errorf("%w: empty formula", ErrFormula)
	}
	tokens, err := tokenize(formula)
	if err != nil {
		return decimal.Zero, err
	}

	p := &formulaParser{tokens: tokens, vars: vars}
	value, err := p.expr()
	if err != nil {
		return decimal.Zero, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return decimal.Zero, fmt.Errorf("%w: unexpected %q at %d", ErrFormula, t.text, t.pos)
	}
	return value, nil
}

type formulaParser struct {
	tokens []token
	pos    int
	depth  int
	vars   map[string]decimal.Decimal
}

// enter guards every recursive descent so deeply nested input fails
// instead of exhausting the stack.
func (p *formulaParser) enter(at int) error {
	p.depth++
	if p.depth > maxFormulaDepth {
		return fmt.Errorf("%w: nesting deeper than %d at %d", ErrFormula, maxFormulaDepth, at)
	}
	return nil
}

func (p *formulaParser) leave() { p.depth-- }

func (p *formulaParser) peek() token { return p.tokens[p.pos] }

func (p *formulaParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *formulaParser) expect(kind tokenKind, what string) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("%w: expected %s at %d", ErrFormula, what, t.pos)
	}
	return nil
}

func (p *formulaParser) expr() (decimal.Decimal, error) {
	left, err := p.term()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return decimal.Zero, err
		}
		if t.text == "+" {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

func (p *formulaParser) term() (decimal.Decimal, error) {
	left, err := p.unary()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return decimal.Zero, err
		}
		if t.text == "*" {
			left = left.Mul(right)
			continue
		}
		if right.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: division by zero at %d", ErrFormula, t.pos)
		}
		left = left.Div(right)
	}
}

func (p *formulaParser) unary() (decimal.Decimal, error) {
	if t := p.peek(); t.kind == tokOp && t.text == "-" {
		if err := p.enter(t.pos); err != nil {
			return decimal.Zero, err
		}
		defer p.leave()
		p.next()
		v, err := p.unary()
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil
	}
	return p.primary()
}

func (p *formulaParser) primary() (decimal.Decimal, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: bad number %q at %d", ErrFormula, t.text, t.pos)
		}
		return v, nil
	case tokLParen:
		if err := p.enter(t.pos); err != nil {
			return decimal.Zero, err
		}
		defer p.leave()
		v, err := p.expr()
		if err != nil {
			return decimal.Zero, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return decimal.Zero, err
		}
		return v, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		if !isFormulaVariable(t.text) {
			return decimal.Zero, fmt.Errorf("%w: unknown identifier %q", ErrFormula, t.text)
		}
		v, ok := p.vars[t.text]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s has no value for this member", ErrFormula, t.text)
		}
		return v, nil
	case tokEOF:
		return decimal.Zero, fmt.Errorf("%w: unexpected end of formula", ErrFormula)
	default:
		return decimal.Zero, fmt.Errorf("%w: unexpected %q at %d", ErrFormula, t.text, t.pos)
	}
}

func (p *formulaParser) call(name token) (decimal.Decimal, error) {
	if err := p.enter(name.pos); err != nil {
		return decimal.Zero, err
	}
	defer p.leave()
	p.next() // (
	var args []decimal.Decimal
	if p.peek().kind != tokRParen {
		for {
			v, err := p.expr()
			if err != nil {
				return decimal.Zero, err
			}
			args = append(args, v)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return decimal.Zero, err
	}

	switch name.text {
	case "min", "max":
		if len(args) == 0 {
			return decimal.Zero, fmt.Errorf("%w: %s needs at least one argument", ErrFormula, name.text)
		}
		if name.text == "min" {
			return decimal.Min(args[0], args[1:]...), nil
		}
		return decimal.Max(args[0], args[1:]...), nil
	case "round":
		switch len(args) {
		case 1:
			return args[0].Round(0), nil
		case 2:
			places := args[1]
			if !places.IsInteger() || places.IsNegative() || places.GreaterThan(decimal.NewFromInt(maxRoundPlaces)) {
				return decimal.Zero, fmt.Errorf("%w: round places must be a whole number from 0 to %d", ErrFormula, maxRoundPlaces)
			}
			return args[0].Round(int32(places.IntPart())), nil
		default:
			return decimal.Zero, fmt.Errorf("%w: round takes one or two arguments", ErrFormula)
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown function %q", ErrFormula, name.text)
	}
}
