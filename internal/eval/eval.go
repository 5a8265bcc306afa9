// Package eval is the native elementwise raster evaluator. It reads every
// operand one output block at a time, evaluates the expression tree over the
// block, applies the no-data and NaN/Inf policy and writes the result through
// a raster driver, which commits the file only when every block succeeded.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/expr"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// Options configures an Evaluator.
type Options struct {
	// Driver opens operands and creates the output.
	Driver raster.Driver

	// Logger defaults to the "eval" component logger.
	Logger *slog.Logger
}

// Evaluator implements raster.Evaluator.
type Evaluator struct {
	driver raster.Driver
	log    *slog.Logger
}

// New creates an evaluator.
func New(opts Options) *Evaluator {
	return &Evaluator{
		driver: opts.Driver,
		log:    logging.Or(opts.Logger, "eval"),
	}
}

var _ raster.Evaluator = (*Evaluator)(nil)

// blockFunc computes the output values of one block.
type blockFunc func(b *block) ([]float64, error)

// Evaluate computes req.Expr over the common grid of its raster operands.
// A top-level mask call takes the set-membership path instead of the
// arithmetic one.
func (e *Evaluator) Evaluate(ctx context.Context, req raster.EvalRequest) (raster.Info, error) {
	start := time.Now()

	if req.Expr == nil {
		return raster.Info{}, fmt.Errorf("%w: empty expression", errors.ErrSyntax)
	}
	if err := expr.Check(req.Expr, func(s string) bool {
		_, ok := req.Bindings[s]
		return ok
	}); err != nil {
		return raster.Info{}, err
	}
	if len(expr.PercentileCalls(req.Expr)) > 0 {
		return raster.Info{}, fmt.Errorf("unresolved percentile call in %s", req.Expr)
	}

	ops, err := e.open(req)
	if err != nil {
		return raster.Info{}, err
	}
	defer ops.close()

	out, err := outputInfo(req, ops)
	if err != nil {
		return raster.Info{}, err
	}

	fn := arithmetic(req)
	if m, ok := expr.AsMask(req.Expr); ok {
		fn = maskPath(m)
	}

	w, err := e.driver.Create(req.Target, out)
	if err != nil {
		return raster.Info{}, err
	}

	for _, win := range raster.Blocks(out) {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return raster.Info{}, err
		}

		b, err := ops.read(ctx, win, req)
		if err != nil {
			w.Abort()
			return raster.Info{}, err
		}

		values, err := fn(b)
		if err != nil {
			w.Abort()
			return raster.Info{}, err
		}

		if err := w.WriteTile(ctx, 1, raster.Tile{Window: win, Values: values}); err != nil {
			w.Abort()
			return raster.Info{}, err
		}
	}

	if err := w.Close(); err != nil {
		return raster.Info{}, err
	}

	e.log.Info("evaluated",
		"expr", req.Expr.String(),
		"path", req.Target,
		"cols", out.Cols,
		"rows", out.Rows,
		"duration", time.Since(start),
	)
	return out, nil
}

// outputInfo derives the output handle from the first raster operand.
func outputInfo(req raster.EvalRequest, ops *operands) (raster.Info, error) {
	grid := ops.grid()
	dt := req.DataType
	if dt == raster.Unknown {
		dt = raster.Float32
	}
	if dt == raster.CFloat32 {
		return raster.Info{}, fmt.Errorf("%w: output %s", errors.ErrUnsupportedDatatype, dt)
	}
	return raster.Info{
		Path:         req.Target,
		Cols:         grid.Cols,
		Rows:         grid.Rows,
		Bands:        1,
		BlockCols:    grid.BlockCols,
		BlockRows:    grid.BlockRows,
		DataType:     dt,
		NoData:       req.NoData,
		Projection:   grid.Projection,
		GeoTransform: grid.GeoTransform,
	}, nil
}

// arithmetic evaluates the tree and applies the no-data and NaN/Inf policy.
func arithmetic(req raster.EvalRequest) blockFunc {
	fill := fillValue(req.NoData)
	return func(b *block) ([]float64, error) {
		res := b.eval(req.Expr)
		out := make([]float64, len(res))
		for i, v := range res {
			if b.nodata[i] {
				out[i] = fill
				continue
			}
			switch {
			case math.IsNaN(v):
				if req.DefaultNaN == nil {
					col, row := b.pixel(i)
					return nil, fmt.Errorf("%w: pixel (%d,%d)", errors.ErrNaNResult, col, row)
				}
				v = *req.DefaultNaN
			case math.IsInf(v, 0):
				if req.DefaultInf == nil {
					col, row := b.pixel(i)
					return nil, fmt.Errorf("%w: pixel (%d,%d)", errors.ErrInfResult, col, row)
				}
				v = *req.DefaultInf
			}
			out[i] = v
		}
		return out, nil
	}
}

// maskPath emits 1 for members of the value set, 0 otherwise, swapped by
// invert, and the no-data fill where the masked raster has no data.
func maskPath(m *expr.Mask) blockFunc {
	set := newMemberSet(m.Values)
	return func(b *block) ([]float64, error) {
		src := b.vars[m.Symbol]
		out := make([]float64, len(src))
		for i, v := range src {
			if b.nodata[i] {
				out[i] = b.fill
				continue
			}
			if set.Contains(v) != m.Invert {
				out[i] = 1
			}
		}
		return out, nil
	}
}

func fillValue(nd *float64) float64 {
	if nd == nil {
		return math.NaN()
	}
	return *nd
}

// operand is one bound symbol.
type operand struct {
	name    string
	binding raster.Binding
	ds      raster.Dataset
	info    raster.Info
}

type operands struct {
	list   []*operand
	raster []*operand
}

// open opens every raster operand and checks that all share one grid.
func (e *Evaluator) open(req raster.EvalRequest) (*operands, error) {
	names := make([]string, 0, len(req.Bindings))
	for name := range req.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := &operands{}
	for _, name := range names {
		b := req.Bindings[name]
		op := &operand{name: name, binding: b}
		ops.list = append(ops.list, op)

		if !b.IsRaster() {
			if b.Scalar == nil && b.Array == nil {
				ops.close()
				return nil, fmt.Errorf("%w: %s has no value", errors.ErrMissingSymbol, name)
			}
			continue
		}

		ds, err := e.driver.Open(b.Path)
		if err != nil {
			ops.close()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		op.ds = ds
		op.info = ds.Info()
		if band := b.BandOrDefault(); band > op.info.Bands {
			ops.close()
			return nil, fmt.Errorf("%s: band %d out of range [1,%d]", name, band, op.info.Bands)
		}
		ops.raster = append(ops.raster, op)
	}

	if len(ops.raster) == 0 {
		ops.close()
		return nil, fmt.Errorf("%w: expression needs at least one raster operand", errors.ErrGridMismatch)
	}

	grid := ops.grid()
	for _, op := range ops.raster[1:] {
		if op.info.Cols != grid.Cols || op.info.Rows != grid.Rows {
			ops.close()
			return nil, fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", errors.ErrGridMismatch,
				op.name, op.info.Cols, op.info.Rows, ops.raster[0].name, grid.Cols, grid.Rows)
		}
	}
	for _, op := range ops.list {
		if op.binding.Array != nil && len(op.binding.Array) != grid.Pixels() {
			ops.close()
			return nil, fmt.Errorf("%w: array %s has %d values, grid has %d pixels",
				errors.ErrGridMismatch, op.name, len(op.binding.Array), grid.Pixels())
		}
	}
	return ops, nil
}

func (o *operands) grid() raster.Info {
	return o.raster[0].info
}

func (o *operands) close() {
	for _, op := range o.list {
		if op.ds != nil {
			op.ds.Close()
			op.ds = nil
		}
	}
}

// read loads every operand over window w.
func (o *operands) read(ctx context.Context, w raster.Window, req raster.EvalRequest) (*block, error) {
	n := w.Len()
	b := &block{
		n:      n,
		win:    w,
		vars:   make(map[string][]float64, len(o.list)),
		nodata: make([]bool, n),
		fill:   fillValue(req.NoData),
	}
	cols := o.grid().Cols

	for _, op := range o.list {
		var values []float64
		switch {
		case op.ds != nil:
			t, err := op.ds.ReadTile(ctx, op.binding.BandOrDefault(), w)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", op.name, err)
			}
			values = t.Values
			for i, v := range values {
				if op.info.IsNoData(v) {
					b.nodata[i] = true
				}
			}
		case op.binding.Array != nil:
			values = make([]float64, 0, n)
			for row := w.YOff; row < w.YOff+w.Rows; row++ {
				start := row*cols + w.XOff
				values = append(values, op.binding.Array[start:start+w.Cols]...)
			}
		default:
			values = make([]float64, n)
			for i := range values {
				values[i] = *op.binding.Scalar
			}
		}

		if req.SubstituteInputs {
			substitute(values, req.DefaultNaN, req.DefaultInf)
		}
		b.vars[op.name] = values
	}
	return b, nil
}

// substitute replaces NaN and infinite inputs in place.
func substitute(values []float64, nan, inf *float64) {
	for i, v := range values {
		switch {
		case nan != nil && math.IsNaN(v):
			values[i] = *nan
		case inf != nil && math.IsInf(v, 0):
			values[i] = *inf
		}
	}
}
