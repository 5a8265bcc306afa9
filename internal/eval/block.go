package eval

import (
	"math"

	"github.com/xtxerr/rastercalc/internal/expr"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// block holds every operand over one output window.
type block struct {
	n      int
	win    raster.Window
	vars   map[string][]float64
	nodata []bool
	fill   float64
}

// pixel maps a block offset to grid coordinates.
func (b *block) pixel(i int) (int, int) {
	return b.win.XOff + i%b.win.Cols, b.win.YOff + i/b.win.Cols
}

// eval evaluates n over the whole block. The result is freshly allocated
// unless n is a bare symbol.
func (b *block) eval(n expr.Node) []float64 {
	switch n := n.(type) {
	case *expr.Literal:
		return b.constant(n.Value)

	case *expr.Symbol:
		return b.vars[n.Name]

	case *expr.Unary:
		x := b.eval(n.X)
		out := make([]float64, b.n)
		for i, v := range x {
			out[i] = -v
		}
		return out

	case *expr.Binary:
		l, r := b.eval(n.Left), b.eval(n.Right)
		out := make([]float64, b.n)
		for i := range out {
			out[i] = expr.ApplyBinary(n.Op, l[i], r[i])
		}
		return out

	case *expr.Call:
		args := make([][]float64, len(n.Args))
		for i, a := range n.Args {
			args[i] = b.eval(a)
		}
		scratch := make([]float64, len(args))
		out := make([]float64, b.n)
		for i := range out {
			for j, a := range args {
				scratch[j] = a[i]
			}
			out[i] = expr.ApplyCall(n.Func, scratch)
		}
		return out

	case *expr.Mask:
		set := newMemberSet(n.Values)
		src := b.vars[n.Symbol]
		out := make([]float64, b.n)
		for i, v := range src {
			if set.Contains(v) != n.Invert {
				out[i] = 1
			}
		}
		return out
	}

	// Percentile calls are rejected before evaluation starts.
	return b.constant(math.NaN())
}

func (b *block) constant(v float64) []float64 {
	out := make([]float64, b.n)
	for i := range out {
		out[i] = v
	}
	return out
}
