package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_Tokens(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		types  []TokenType
		values []string
	}{
		{
			name:   "plain text",
			input:  "source: main.sales",
			types:  []TokenType{TokenText, TokenEOF},
			values: []string{"source: main.sales", ""},
		},
		{
			name:   "expression",
			input:  "source: {{ catalog }}.sales",
			types:  []TokenType{TokenText, TokenExpr, TokenText, TokenEOF},
			values: []string{"source: ", "catalog", ".sales", ""},
		},
		{
			name:   "statement",
			input:  "{% if tags %}x{% endif %}",
			types:  []TokenType{TokenStmt, TokenText, TokenStmt, TokenEOF},
			values: []string{"if tags", "x", "endif", ""},
		},
		{
			name:   "comment dropped",
			input:  "a{# note #}b",
			types:  []TokenType{TokenText, TokenText, TokenEOF},
			values: []string{"a", "b", ""},
		},
		{
			name:   "closing delimiter inside string",
			input:  `{{ x | default("}}") }}`,
			types:  []TokenType{TokenExpr, TokenEOF},
			values: []string{`x | default("}}")`, ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := NewLexer(tt.input, "test.yml").Tokenize()
			require.NoError(t, err)
			require.Len(t, tokens, len(tt.types))
			for i, tok := range tokens {
				assert.Equal(t, tt.types[i], tok.Type, "token %d", i)
				assert.Equal(t, tt.values[i], tok.Value, "token %d", i)
			}
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	tokens, err := NewLexer("a: 1\nb: {{ x }}", "defs/orders.yml").Tokenize()
	require.NoError(t, err)

	require.Equal(t, TokenExpr, tokens[1].Type)
	assert.Equal(t, Position{File: "defs/orders.yml", Line: 2, Column: 4}, tokens[1].Pos)
}

func TestLexer_WhitespaceControl(t *testing.T) {
	tokens, err := NewLexer("a   {%- if x -%}\n  b\n{%- endif %}", "").Tokenize()
	require.NoError(t, err)

	assert.Equal(t, "a", tokens[0].Value)
	assert.True(t, tokens[1].TrimLeft)
	assert.True(t, tokens[1].TrimRight)
	assert.Equal(t, "b", tokens[2].Value)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"unclosed expression", "a {{ catalog", "unclosed '{{': missing '}}'"},
		{"unclosed statement", "{% if x ", "unclosed '{%': missing '%}'"},
		{"unclosed comment", "{# note", "unclosed comment"},
		{"unterminated string", `{{ x | default("oops }}`, "unterminated string literal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.input, "f.yml").Tokenize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Contains(t, err.Error(), "f.yml:1:")
		})
	}
}
