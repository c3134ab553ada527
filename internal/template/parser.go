package template

import (
	"strings"
	"unicode"
)

// Parse tokenizes and parses a template.
func Parse(input, file string) (*Template, error) {
	tokens, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	nodes, end, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, unmatched(end)
	}

	return &Template{Nodes: nodes, File: file}, nil
}

type parser struct {
	tokens []Token
	pos    int
}

// stmt is a split {% ... %} tag.
type stmt struct {
	keyword string
	rest    string
	pos     Position
}

func splitStmt(tok Token) stmt {
	value := strings.TrimSpace(tok.Value)
	s := stmt{keyword: value, pos: tok.Pos}
	if i := strings.IndexFunc(value, unicode.IsSpace); i >= 0 {
		s.keyword = value[:i]
		s.rest = strings.TrimSpace(value[i:])
	}
	return s
}

// parseNodes parses until EOF or a block terminator (elif/else/endif/endfor), which is
// returned unconsumed to the caller.
func (p *parser) parseNodes() ([]Node, *stmt, error) {
	var nodes []Node

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			p.pos++
			return nodes, nil, nil

		case TokenText:
			p.pos++
			if tok.Value != "" {
				nodes = append(nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})
			}

		case TokenExpr:
			p.pos++
			e, err := parseExpression(tok.Value)
			if err != nil {
				return nil, nil, newSyntaxError(tok.Pos, "invalid expression '%s': %v", tok.Value, err)
			}
			nodes = append(nodes, &ExprNode{nodeBase: nodeBase{pos: tok.Pos}, Source: tok.Value, expr: e})

		case TokenStmt:
			s := splitStmt(tok)
			switch s.keyword {
			case "if":
				p.pos++
				block, err := p.parseIf(s)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, block)
			case "for":
				p.pos++
				block, err := p.parseFor(s)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, block)
			case "elif", "else", "endif", "endfor":
				p.pos++
				return nodes, &s, nil
			default:
				return nil, nil, newSyntaxError(tok.Pos, "unknown statement '%s'", s.keyword)
			}
		}
	}

	return nodes, nil, nil
}

func (p *parser) parseIf(open stmt) (*IfBlock, error) {
	cond, err := parseCondition(open)
	if err != nil {
		return nil, err
	}

	block := &IfBlock{nodeBase: nodeBase{pos: open.pos}, Condition: open.rest, cond: cond}

	body, end, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	block.Body = body

	for {
		if end == nil {
			return nil, newSyntaxError(open.pos, "unclosed 'if' block (missing 'endif')")
		}

		switch end.keyword {
		case "elif":
			c, err := parseCondition(*end)
			if err != nil {
				return nil, err
			}
			branch := Branch{Condition: end.rest, cond: c, pos: end.pos}
			branch.Body, end, err = p.parseNodes()
			if err != nil {
				return nil, err
			}
			block.ElseIfs = append(block.ElseIfs, branch)
		case "else":
			block.Else, end, err = p.parseNodes()
			if err != nil {
				return nil, err
			}
			if end == nil || end.keyword != "endif" {
				if end == nil {
					return nil, newSyntaxError(open.pos, "unclosed 'if' block (missing 'endif')")
				}
				return nil, unmatched(end)
			}
			return block, nil
		case "endif":
			return block, nil
		default:
			return nil, newSyntaxError(open.pos, "unclosed 'if' block (missing 'endif')")
		}
	}
}

func (p *parser) parseFor(open stmt) (*ForBlock, error) {
	vars, iter, ok := strings.Cut(open.rest, " in ")
	if !ok {
		return nil, newSyntaxError(open.pos, "invalid for statement, expected 'for x in items'")
	}

	block := &ForBlock{nodeBase: nodeBase{pos: open.pos}}

	names := strings.Split(vars, ",")
	switch len(names) {
	case 1:
		block.ValueVar = strings.TrimSpace(names[0])
	case 2:
		block.KeyVar = strings.TrimSpace(names[0])
		block.ValueVar = strings.TrimSpace(names[1])
	default:
		return nil, newSyntaxError(open.pos, "for loops take one or two variables")
	}
	for _, name := range []string{block.KeyVar, block.ValueVar} {
		if name != "" && !isIdentifier(name) {
			return nil, newSyntaxError(open.pos, "invalid loop variable '%s'", name)
		}
	}

	// Jinja's mapping.items() iterates the same pairs as the mapping itself
	iter = strings.TrimSpace(iter)
	iter = strings.TrimSuffix(iter, ".items()")
	block.IterExpr = iter

	e, err := parseExpression(iter)
	if err != nil {
		return nil, newSyntaxError(open.pos, "invalid loop expression '%s': %v", iter, err)
	}
	block.iter = e

	body, end, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if end == nil {
		return nil, newSyntaxError(open.pos, "unclosed 'for' block (missing 'endfor')")
	}
	if end.keyword != "endfor" {
		return nil, newSyntaxError(open.pos, "unclosed 'for' block (missing 'endfor')")
	}
	block.Body = body
	return block, nil
}

func parseCondition(s stmt) (expr, error) {
	if s.rest == "" {
		return nil, newSyntaxError(s.pos, "'%s' requires a condition", s.keyword)
	}
	e, err := parseExpression(s.rest)
	if err != nil {
		return nil, newSyntaxError(s.pos, "invalid condition '%s': %v", s.rest, err)
	}
	return e, nil
}

func unmatched(s *stmt) error {
	switch s.keyword {
	case "endfor":
		return newSyntaxError(s.pos, "'endfor' without matching 'for'")
	case "endif":
		return newSyntaxError(s.pos, "'endif' without matching 'if'")
	case "else":
		return newSyntaxError(s.pos, "'else' without matching 'if'")
	case "elif":
		return newSyntaxError(s.pos, "'elif' without matching 'if'")
	default:
		return newSyntaxError(s.pos, "unmatched block: %s", s.keyword)
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
