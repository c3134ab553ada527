// Package template renders view definitions and test queries with Jinja-style
// placeholders: {{ path }} for values, {% if %} / {% for %} blocks for control flow and
// {# ... #} comments. Expressions are limited to dotted lookups, literals, comparisons
// and a few filters; there is no general expression language.
package template

import "fmt"

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is the interface for all template AST nodes.
type Node interface {
	Pos() Position
	node()
}

type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode is literal text passed through unchanged.
type TextNode struct {
	nodeBase
	Text string
}

// ExprNode is a {{ expr }} placeholder.
type ExprNode struct {
	nodeBase
	Source string
	expr   expr
}

// IfBlock is a complete if/elif/else conditional.
type IfBlock struct {
	nodeBase
	Condition string
	Body      []Node
	ElseIfs   []Branch
	Else      []Node

	cond expr
}

// Branch is an elif branch.
type Branch struct {
	Condition string
	Body      []Node

	cond expr
	pos  Position
}

// ForBlock is a for loop. KeyVar is empty for single-variable loops.
type ForBlock struct {
	nodeBase
	KeyVar   string
	ValueVar string
	IterExpr string
	Body     []Node

	iter expr
}

// Template is a parsed template.
type Template struct {
	Nodes []Node
	File  string
}
