package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText TokenType = iota // literal text
	TokenExpr                  // content between {{ and }}
	TokenStmt                  // content between {% and %}
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token. TrimLeft and TrimRight record the "-" whitespace
// control markers ({{- / -}} and {%- / -%}).
type Token struct {
	Type      TokenType
	Value     string
	Pos       Position
	TrimLeft  bool
	TrimRight bool
}

// Lexer tokenizes a template string.
type Lexer struct {
	input    string
	file     string
	pos      int
	line     int
	col      int
	lastLine int
	lastCol  int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return &Lexer{
		input: input,
		file:  file,
		line:  1,
		col:   1,
	}
}

// Tokenize converts the input into a slice of tokens. Comments are dropped and
// whitespace control markers are applied to the neighbouring text tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token

	for {
		tok, skip, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}

	return applyTrim(tokens), nil
}

func (l *Lexer) nextToken() (Token, bool, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.position()}, false, nil
	}

	switch {
	case l.matchString("{{"):
		tok, err := l.scanDelimited(TokenExpr, "}}")
		return tok, false, err
	case l.matchString("{%"):
		tok, err := l.scanDelimited(TokenStmt, "%}")
		return tok, false, err
	case l.matchString("{#"):
		return Token{}, true, l.skipComment()
	}

	tok, err := l.scanText()
	return tok, false, err
}

func (l *Lexer) atDelimiter() bool {
	return l.matchString("{{") || l.matchString("{%") || l.matchString("{#")
}

// scanText scans literal text until a delimiter or EOF.
func (l *Lexer) scanText() (Token, error) {
	l.markStart()
	start := l.pos

	for l.pos < len(l.input) && !l.atDelimiter() {
		l.advance()
	}

	if l.pos == start {
		return Token{}, newSyntaxError(l.position(), "unexpected state in lexer")
	}

	return Token{
		Type:  TokenText,
		Value: l.input[start:l.pos],
		Pos:   l.startPosition(),
	}, nil
}

// scanDelimited scans {{ ... }} or {% ... %}, honouring quoted strings so that a
// closing delimiter inside a literal does not end the tag.
func (l *Lexer) scanDelimited(typ TokenType, closing string) (Token, error) {
	l.markStart()
	l.skip(2)

	tok := Token{Type: typ, Pos: l.startPosition()}
	if l.matchString("-") {
		tok.TrimLeft = true
		l.skip(1)
	}

	contentStart := l.pos
	var quote rune

	for l.pos < len(l.input) {
		r := l.peek()
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			l.advance()
			continue
		}
		if r == '"' || r == '\'' {
			quote = r
			l.advance()
			continue
		}

		if l.matchString("-" + closing) {
			tok.TrimRight = true
			tok.Value = strings.TrimSpace(l.input[contentStart:l.pos])
			l.skip(1 + len(closing))
			return tok, nil
		}
		if l.matchString(closing) {
			tok.Value = strings.TrimSpace(l.input[contentStart:l.pos])
			l.skip(len(closing))
			return tok, nil
		}
		if typ == TokenExpr && l.matchString("{{") {
			break
		}
		l.advance()
	}

	if quote != 0 {
		return Token{}, newSyntaxError(tok.Pos, "unterminated string literal")
	}
	return Token{}, newSyntaxError(tok.Pos, "unclosed '%s': missing '%s'", openingFor(typ), closing)
}

func (l *Lexer) skipComment() error {
	l.markStart()
	l.skip(2)

	for l.pos < len(l.input) {
		if l.matchString("#}") {
			l.skip(2)
			return nil
		}
		l.advance()
	}
	return newSyntaxError(l.startPosition(), "unclosed comment: missing '#}'")
}

func openingFor(typ TokenType) string {
	if typ == TokenStmt {
		return "{%"
	}
	return "{{"
}

// applyTrim strips whitespace next to tags carrying "-" markers.
func applyTrim(tokens []Token) []Token {
	for i, tok := range tokens {
		if tok.Type != TokenExpr && tok.Type != TokenStmt {
			continue
		}
		if tok.TrimLeft && i > 0 && tokens[i-1].Type == TokenText {
			tokens[i-1].Value = strings.TrimRight(tokens[i-1].Value, " \t\r\n")
		}
		if tok.TrimRight && i+1 < len(tokens) && tokens[i+1].Type == TokenText {
			tokens[i+1].Value = strings.TrimLeft(tokens[i+1].Value, " \t\r\n")
		}
	}
	return tokens
}

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// advance moves to the next rune, updating position tracking.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

// skip advances over n single-byte delimiter characters.
func (l *Lexer) skip(n int) {
	l.pos += n
	l.col += n
}

func (l *Lexer) matchString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

func (l *Lexer) markStart() {
	l.lastLine = l.line
	l.lastCol = l.col
}

func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}

func (l *Lexer) startPosition() Position {
	return Position{File: l.file, Line: l.lastLine, Column: l.lastCol}
}
