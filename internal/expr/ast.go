// Package expr parses raster arithmetic expressions into a tree.
//
// Grammar, loosest binding first:
//
//	expr       = compare
//	compare    = additive { ("<" | "<=" | ">" | ">=" | "==" | "!=") additive }
//	additive   = multiply { ("+" | "-") multiply }
//	multiply   = unary { ("*" | "/") unary }
//	unary      = ("-" | "+") unary | power
//	power      = primary [ ("^" | "**") unary ]
//	primary    = number | symbol | call | "(" expr ")"
//	call       = name "(" [ arg { "," arg } ] ")"
//	arg        = expr | name "=" expr
//
// Two calls are special forms rather than functions: percentile(sym, p)
// is a nearest-rank percentile of a raster, resolved to a literal before
// evaluation, and mask(sym, v1, ..., invert=bool) tests set membership.
package expr

import (
	"strconv"
	"strings"
)

// Node is an expression tree node.
type Node interface {
	String() string
	node()
}

// Literal is a numeric constant.
type Literal struct {
	Value float64
}

// Symbol references a bound raster or value.
type Symbol struct {
	Name string
}

// Percentile is percentile(Symbol, P).
type Percentile struct {
	Symbol string
	P      float64
}

// Binary is an arithmetic or comparison operator.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

// Unary is a prefix operator.
type Unary struct {
	Op string
	X  Node
}

// Call is an elementwise function call.
type Call struct {
	Func string
	Args []Node
}

// Mask is mask(Symbol, Values..., invert=Invert): 1 where the pixel is in
// Values (not in Values when Invert), 0 elsewhere.
type Mask struct {
	Symbol string
	Values []float64
	Invert bool
}

func (*Literal) node()    {}
func (*Symbol) node()     {}
func (*Percentile) node() {}
func (*Binary) node()     {}
func (*Unary) node()      {}
func (*Call) node()       {}
func (*Mask) node()       {}

// =============================================================================
// Printing
// =============================================================================

// Binding strength of each operator, loosest first.
const (
	precCompare = iota + 1
	precAdd
	precMul
	precUnary
	precPow
	precAtom
)

func precedence(n Node) int {
	switch n := n.(type) {
	case *Binary:
		return binaryPrec(n.Op)
	case *Unary:
		return precUnary
	case *Literal:
		if n.Value < 0 {
			return precUnary
		}
	}
	return precAtom
}

func binaryPrec(op string) int {
	switch op {
	case "+", "-":
		return precAdd
	case "*", "/":
		return precMul
	case "^":
		return precPow
	default:
		return precCompare
	}
}

// wrap parenthesises child when it binds looser than min.
func wrap(child Node, min int) string {
	if precedence(child) < min {
		return "(" + child.String() + ")"
	}
	return child.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (n *Literal) String() string {
	return formatNumber(n.Value)
}

func (n *Symbol) String() string {
	return n.Name
}

func (n *Percentile) String() string {
	return "percentile(" + n.Symbol + ", " + formatNumber(n.P) + ")"
}

func (n *Binary) String() string {
	p := binaryPrec(n.Op)
	left, right := p, p+1 // left associative
	if n.Op == "^" {
		left, right = p+1, precUnary // right associative, allows 2^-1
	}
	return wrap(n.Left, left) + " " + n.Op + " " + wrap(n.Right, right)
}

func (n *Unary) String() string {
	return n.Op + wrap(n.X, precUnary)
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Func + "(" + strings.Join(args, ", ") + ")"
}

func (n *Mask) String() string {
	var b strings.Builder
	b.WriteString("mask(")
	b.WriteString(n.Symbol)
	for _, v := range n.Values {
		b.WriteString(", ")
		b.WriteString(formatNumber(v))
	}
	if n.Invert {
		b.WriteString(", invert=true")
	}
	b.WriteString(")")
	return b.String()
}
