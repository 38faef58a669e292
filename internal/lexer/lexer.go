// Package lexer adapts a participle/v2 stateful regex lexer into the
// token.Token stream internal/parser consumes.
package lexer

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"smplc/token"
)

// smplLexer is the stateful regex lexer definition, built the same way the
// teacher's grammar/lexer.go builds its own: one "Root" state, ordered so
// that longer operators are tried before their prefixes (<- before <, <=
// before <, etc).
var smplLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `//[^\n]*`, Action: nil},
		{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9]*`, Action: nil},
		{Name: "Integer", Pattern: `[0-9]+`, Action: nil},
		{Name: "Becomes", Pattern: `<-`, Action: nil},
		{Name: "Leq", Pattern: `<=`, Action: nil},
		{Name: "Geq", Pattern: `>=`, Action: nil},
		{Name: "Eq", Pattern: `==`, Action: nil},
		{Name: "Neq", Pattern: `!=`, Action: nil},
		{Name: "Operator", Pattern: `[-+*/<>]`, Action: nil},
		{Name: "Punctuation", Pattern: `[.,;()\[\]{}]`, Action: nil},
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`, Action: nil},
	},
})

// symbolOperator maps a raw lexeme produced by the "Operator"/"Punctuation"/
// "Becomes"/"Leq"/... rules to its token.Type. Ident and Integer are handled
// separately since their token.Type depends on content, not rule name.
var symbolOperator = map[string]token.Type{
	"+": token.PLUS, "-": token.MINUS, "*": token.TIMES, "/": token.DIV,
	"<": token.LSS, ">": token.GTR,
	"<-": token.BECOMES, "<=": token.LEQ, ">=": token.GEQ,
	"==": token.EQ, "!=": token.NEQ,
	".": token.PERIOD, ",": token.COMMA, ";": token.SEMI,
	"(": token.LPAREN, ")": token.RPAREN,
	"[": token.LBRACKET, "]": token.RBRACKET,
	"{": token.LBRACE, "}": token.RBRACE,
}

// Lexer drives smplLexer over a single source file and yields token.Token
// values, skipping whitespace and comments and reclassifying keywords.
type Lexer struct {
	filename string
	symbols  map[lexer.TokenType]string // rule-id -> rule name, inverted from Symbols()
	inner    lexer.Lexer
	skip     map[string]bool
}

// New builds a Lexer over the given source. filename is used only for
// diagnostic positions.
func New(filename string, src string) (*Lexer, error) {
	inner, err := smplLexer.Lex(filename, strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("lexer: %w", err)
	}

	symbols := make(map[lexer.TokenType]string, len(smplLexer.Symbols()))
	for name, id := range smplLexer.Symbols() {
		symbols[id] = name
	}

	return &Lexer{
		filename: filename,
		symbols:  symbols,
		inner:    inner,
		skip:     map[string]bool{"Whitespace": true, "Comment": true},
	}, nil
}

// Next returns the next significant token, or a token.EOF token once the
// source is exhausted.
func (l *Lexer) Next() (token.Token, error) {
	for {
		raw, err := l.inner.Next()
		if err != nil {
			return token.Token{}, fmt.Errorf("lexer: %w", err)
		}

		pos := token.Position{
			Filename: l.filename,
			Line:     raw.Pos.Line,
			Column:   raw.Pos.Column,
			Offset:   raw.Pos.Offset,
		}

		if raw.EOF() {
			return token.Token{Type: token.EOF, Literal: "", Pos: pos}, nil
		}

		ruleName := l.symbols[raw.Type]
		if l.skip[ruleName] {
			continue
		}

		switch ruleName {
		case "Ident":
			return token.Token{Type: token.LookupIdent(raw.Value), Literal: raw.Value, Pos: pos}, nil
		case "Integer":
			return token.Token{Type: token.INT, Literal: raw.Value, Pos: pos}, nil
		default:
			tt, ok := symbolOperator[raw.Value]
			if !ok {
				return token.Token{}, fmt.Errorf("lexer: %s: unrecognized symbol %q", pos, raw.Value)
			}
			return token.Token{Type: tt, Literal: raw.Value, Pos: pos}, nil
		}
	}
}

// All drains the lexer into a slice, ending with (and including) the EOF
// token. internal/parser consumes tokens this way rather than pulling one
// at a time, so lookahead (peek/previous) is just slice indexing.
func All(filename string, src string) ([]token.Token, error) {
	lx, err := New(filename, src)
	if err != nil {
		return nil, err
	}

	var toks []token.Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks, nil
		}
	}
}
