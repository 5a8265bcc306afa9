package expr

import (
	"fmt"
	"strings"

	"github.com/xtxerr/rastercalc/internal/errors"
)

// funcArity maps elementwise functions to their argument count; -1 means
// two or more.
var funcArity = map[string]int{
	"abs":   1,
	"sqrt":  1,
	"exp":   1,
	"log":   1,
	"log10": 1,
	"floor": 1,
	"ceil":  1,
	"min":   -1,
	"max":   -1,
	"where": 3,
}

// Parse parses src into an expression tree. Errors wrap ErrSyntax.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", errors.ErrSyntax)
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("%w: expected %s, got %s at %d", errors.ErrSyntax, what, t, t.pos)
	}
	return t, nil
}

func (p *parser) unexpected(t token) error {
	return fmt.Errorf("%w: unexpected %s at %d", errors.ErrSyntax, t, t.pos)
}

func (p *parser) parseExpr() (Node, error) {
	return p.parseCompare()
}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("<", "<=", ">", ">=", "==", "!=") {
		op := p.next().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiply()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseMultiply()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiply() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-", "+") {
		op := p.next().text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return x, nil
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^", "**") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "^", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &Literal{Value: t.num}, nil

	case tokLParen:
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return n, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			return p.parseCall(t)
		}
		return &Symbol{Name: t.text}, nil
	}
	return nil, p.unexpected(t)
}

// arg is one call argument, optionally named.
type arg struct {
	name string
	node Node
	pos  int
}

func (p *parser) parseArgs() ([]arg, error) {
	var args []arg
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}

	for {
		a := arg{pos: p.peek().pos}
		if p.peek().kind == tokIdent && p.toks[p.pos+1].kind == tokAssign {
			a.name = p.next().text
			p.next()
		}

		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		a.node = n
		args = append(args, a)

		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		}
		return nil, fmt.Errorf("%w: expected \",\" or \")\", got %s at %d", errors.ErrSyntax, t, t.pos)
	}
}

func (p *parser) parseCall(name token) (Node, error) {
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}

	switch name.text {
	case "percentile":
		return buildPercentile(name, args)
	case "mask":
		return buildMask(name, args)
	}

	arity, ok := funcArity[name.text]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q at %d", errors.ErrSyntax, name.text, name.pos)
	}
	if (arity >= 0 && len(args) != arity) || (arity < 0 && len(args) < 2) {
		want := fmt.Sprint(arity)
		if arity < 0 {
			want = "at least 2"
		}
		return nil, fmt.Errorf("%w: %s takes %s arguments, got %d", errors.ErrSyntax, name.text, want, len(args))
	}

	call := &Call{Func: name.text}
	for _, a := range args {
		if a.name != "" {
			return nil, fmt.Errorf("%w: %s does not take named argument %q", errors.ErrSyntax, name.text, a.name)
		}
		call.Args = append(call.Args, a.node)
	}
	return call, nil
}

func buildPercentile(name token, args []arg) (Node, error) {
	if len(args) != 2 || args[0].name != "" || args[1].name != "" {
		return nil, fmt.Errorf("%w: percentile takes (symbol, p) at %d", errors.ErrSyntax, name.pos)
	}
	sym, ok := args[0].node.(*Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: percentile needs a symbol, got %s", errors.ErrSyntax, args[0].node)
	}
	p, ok := constant(args[1].node)
	if !ok {
		return nil, fmt.Errorf("%w: percentile needs a numeric p, got %s", errors.ErrSyntax, args[1].node)
	}
	return &Percentile{Symbol: sym.Name, P: p}, nil
}

func buildMask(name token, args []arg) (Node, error) {
	if len(args) < 2 || args[0].name != "" {
		return nil, fmt.Errorf("%w: mask takes (symbol, values..., invert=bool) at %d", errors.ErrSyntax, name.pos)
	}
	sym, ok := args[0].node.(*Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: mask needs a symbol, got %s", errors.ErrSyntax, args[0].node)
	}

	m := &Mask{Symbol: sym.Name}
	for _, a := range args[1:] {
		if a.name != "" {
			if a.name != "invert" {
				return nil, fmt.Errorf("%w: mask does not take named argument %q", errors.ErrSyntax, a.name)
			}
			inv, err := boolArg(a.node)
			if err != nil {
				return nil, err
			}
			m.Invert = inv
			continue
		}
		v, ok := constant(a.node)
		if !ok {
			return nil, fmt.Errorf("%w: mask values must be numbers, got %s", errors.ErrSyntax, a.node)
		}
		m.Values = append(m.Values, v)
	}

	if len(m.Values) == 0 {
		return nil, fmt.Errorf("%w: mask needs at least one value", errors.ErrSyntax)
	}
	return m, nil
}

// constant returns the value of a literal, possibly negated.
func constant(n Node) (float64, bool) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, true
	case *Unary:
		if v, ok := constant(n.X); ok && n.Op == "-" {
			return -v, true
		}
	}
	return 0, false
}

func boolArg(n Node) (bool, error) {
	switch n := n.(type) {
	case *Symbol:
		switch strings.ToLower(n.Name) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case *Literal:
		return n.Value != 0, nil
	}
	return false, fmt.Errorf("%w: invert must be true or false, got %s", errors.ErrSyntax, n)
}
