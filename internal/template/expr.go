package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// expr is a parsed placeholder or condition expression.
type expr interface {
	String() string
}

type pathExpr struct {
	segments []string
}

type literalExpr struct {
	value interface{}
	raw   string
}

type filterExpr struct {
	target expr
	name   string
	args   []expr
}

type notExpr struct {
	operand expr
}

type binaryExpr struct {
	op          string // ==, !=, in, not in, and, or
	left, right expr
}

func (e *pathExpr) String() string    { return strings.Join(e.segments, ".") }
func (e *literalExpr) String() string { return e.raw }
func (e *filterExpr) String() string  { return e.target.String() + " | " + e.name }
func (e *notExpr) String() string     { return "not " + e.operand.String() }
func (e *binaryExpr) String() string {
	return e.left.String() + " " + e.op + " " + e.right.String()
}

var knownFilters = map[string]bool{
	"default": true,
	"upper":   true,
	"lower":   true,
	"trim":    true,
}

type exprTokenKind int

const (
	tokIdent exprTokenKind = iota
	tokString
	tokNumber
	tokOp
)

type exprToken struct {
	kind exprTokenKind
	text string
}

func tokenizeExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	runes := []rune(src)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(runes) && runes[j] != r {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprToken{kind: tokString, text: string(runes[i+1 : j])})
			i = j + 1
		case r == '=' || r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, exprToken{kind: tokOp, text: string(runes[i : i+2])})
				i += 2
				continue
			}
			return nil, fmt.Errorf("unexpected character %q", r)
		case r == '|' || r == '(' || r == ')' || r == ',':
			toks = append(toks, exprToken{kind: tokOp, text: string(r)})
			i++
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{kind: tokIdent, text: string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}

	return toks, nil
}

type exprParser struct {
	toks []exprToken
	pos  int
}

// parseExpression parses a full expression. Output placeholders and conditions share
// the grammar:
//
//	or      := and ("or" and)*
//	and     := not ("and" not)*
//	not     := "not" not | compare
//	compare := value [("==" | "!=" | "in" | "not in") value]
//	value   := primary ("|" filter ["(" args ")"])*
func parseExpression(src string) (expr, error) {
	toks, err := tokenizeExpr(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	return e, nil
}

func (p *exprParser) peek() *exprToken {
	if p.pos >= len(p.toks) {
		return nil
	}
	return &p.toks[p.pos]
}

func (p *exprParser) peekKeyword(word string) bool {
	t := p.peek()
	return t != nil && t.kind == tokIdent && t.text == word
}

func (p *exprParser) peekOp(op string) bool {
	t := p.peek()
	return t != nil && t.kind == tokOp && t.text == op
}

func (p *exprParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("and") {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.peekKeyword("not") {
		p.pos++
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (expr, error) {
	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.peekOp("==") || p.peekOp("!="):
		op = p.peek().text
		p.pos++
	case p.peekKeyword("in"):
		op = "in"
		p.pos++
	case p.peekKeyword("not") && p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "in":
		op = "not in"
		p.pos += 2
	default:
		return left, nil
	}

	right, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseValue() (expr, error) {
	value, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.peekOp("|") {
		p.pos++
		t := p.peek()
		if t == nil || t.kind != tokIdent {
			return nil, fmt.Errorf("expected filter name after '|'")
		}
		if !knownFilters[t.text] {
			return nil, fmt.Errorf("unknown filter %q", t.text)
		}
		p.pos++

		f := &filterExpr{target: value, name: t.text}
		if p.peekOp("(") {
			p.pos++
			for !p.peekOp(")") {
				arg, err := p.parsePrimary()
				if err != nil {
					return nil, err
				}
				f.args = append(f.args, arg)
				if p.peekOp(",") {
					p.pos++
				} else if !p.peekOp(")") {
					return nil, fmt.Errorf("expected ',' or ')' in filter arguments")
				}
			}
			p.pos++
		}
		value = f
	}

	return value, nil
}

func (p *exprParser) parsePrimary() (expr, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tokString:
		p.pos++
		return &literalExpr{value: t.text, raw: strconv.Quote(t.text)}, nil
	case tokNumber:
		p.pos++
		if i, err := strconv.Atoi(t.text); err == nil {
			return &literalExpr{value: i, raw: t.text}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &literalExpr{value: f, raw: t.text}, nil
	case tokIdent:
		p.pos++
		switch t.text {
		case "true", "True":
			return &literalExpr{value: true, raw: t.text}, nil
		case "false", "False":
			return &literalExpr{value: false, raw: t.text}, nil
		case "none", "None", "null":
			return &literalExpr{value: nil, raw: t.text}, nil
		case "and", "or", "not", "in":
			return nil, fmt.Errorf("unexpected keyword %q", t.text)
		}
		segments := strings.Split(t.text, ".")
		for _, s := range segments {
			if s == "" {
				return nil, fmt.Errorf("invalid name %q", t.text)
			}
		}
		return &pathExpr{segments: segments}, nil
	default:
		if t.text == "(" {
			p.pos++
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.peekOp(")") {
				return nil, fmt.Errorf("missing ')'")
			}
			p.pos++
			return inner, nil
		}
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
}
