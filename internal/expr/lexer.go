package expr

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/xtxerr/rastercalc/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAssign
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return strconv.Quote(t.text)
}

// lex splits src into tokens.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			text := string(runes[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", errors.ErrSyntax, text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: v, pos: start})

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[start:i]), pos: start})

		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++

		default:
			op, ok := matchOp(runes[i:])
			if !ok {
				return nil, fmt.Errorf("%w: unexpected %q at %d", errors.ErrSyntax, string(r), i)
			}
			kind := tokOp
			if op == "=" {
				kind = tokAssign
			}
			toks = append(toks, token{kind: kind, text: op, pos: i})
			i += len(op)
		}
	}

	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

// Two-character operators come first so "**" wins over "*".
var operators = []string{"**", "<=", ">=", "==", "!=", "+", "-", "*", "/", "^", "<", ">", "="}

func matchOp(rs []rune) (string, bool) {
	for _, op := range operators {
		if len(rs) >= len(op) && string(rs[:len(op)]) == op {
			return op, true
		}
	}
	return "", false
}
