package expr

import (
	"fmt"
	"sort"

	"github.com/xtxerr/rastercalc/internal/errors"
)

// Walk calls fn for n and every descendant in depth-first order.
func Walk(n Node, fn func(Node)) {
	fn(n)
	switch n := n.(type) {
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.X, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// Symbols returns the sorted, distinct symbols referenced by n, including
// those inside percentile and mask calls.
func Symbols(n Node) []string {
	seen := make(map[string]bool)
	Walk(n, func(n Node) {
		switch n := n.(type) {
		case *Symbol:
			seen[n.Name] = true
		case *Percentile:
			seen[n.Symbol] = true
		case *Mask:
			seen[n.Symbol] = true
		}
	})

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// PercentileCalls returns the distinct percentile calls in n, in order of
// first appearance.
func PercentileCalls(n Node) []Percentile {
	seen := make(map[Percentile]bool)
	var out []Percentile
	Walk(n, func(n Node) {
		if p, ok := n.(*Percentile); ok && !seen[*p] {
			seen[*p] = true
			out = append(out, *p)
		}
	})
	return out
}

// Substitute returns a copy of n with every percentile call replaced by its
// value from values. n itself is not modified.
func Substitute(n Node, values map[Percentile]float64) (Node, error) {
	switch n := n.(type) {
	case *Percentile:
		v, ok := values[*n]
		if !ok {
			return nil, fmt.Errorf("no value for %s", n)
		}
		return &Literal{Value: v}, nil

	case *Binary:
		l, err := Substitute(n.Left, values)
		if err != nil {
			return nil, err
		}
		r, err := Substitute(n.Right, values)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: n.Op, Left: l, Right: r}, nil

	case *Unary:
		x, err := Substitute(n.X, values)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: n.Op, X: x}, nil

	case *Call:
		c := &Call{Func: n.Func, Args: make([]Node, len(n.Args))}
		for i, a := range n.Args {
			s, err := Substitute(a, values)
			if err != nil {
				return nil, err
			}
			c.Args[i] = s
		}
		return c, nil
	}
	return n, nil
}

// AsMask returns the mask call when n is a mask at the top level.
func AsMask(n Node) (*Mask, bool) {
	m, ok := n.(*Mask)
	return m, ok
}

// Fold evaluates n when it references no symbols or percentile calls.
func Fold(n Node) (float64, bool) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, true
	case *Unary:
		x, ok := Fold(n.X)
		return -x, ok
	case *Binary:
		l, lok := Fold(n.Left)
		r, rok := Fold(n.Right)
		if !lok || !rok {
			return 0, false
		}
		return ApplyBinary(n.Op, l, r), true
	case *Call:
		args := make([]float64, len(n.Args))
		for i, a := range n.Args {
			v, ok := Fold(a)
			if !ok {
				return 0, false
			}
			args[i] = v
		}
		return ApplyCall(n.Func, args), true
	}
	return 0, false
}

// Check verifies every symbol in n is bound.
func Check(n Node, bound func(string) bool) error {
	var missing []string
	for _, s := range Symbols(n) {
		if !bound(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", errors.ErrMissingSymbol, missing)
	}
	return nil
}
