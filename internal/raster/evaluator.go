package raster

import (
	"context"

	"github.com/xtxerr/rastercalc/internal/expr"
)

// Binding is the value of one symbol during evaluation. Exactly one of
// Path, Scalar or Array is set.
type Binding struct {
	// Path and Band select one band of a raster. Band 0 means band 1.
	Path string
	Band int

	Scalar *float64

	// Array holds one value per pixel of the output grid, row-major.
	Array []float64
}

// IsRaster reports whether b refers to a raster band.
func (b Binding) IsRaster() bool {
	return b.Path != ""
}

// BandOrDefault returns the 1-based band.
func (b Binding) BandOrDefault() int {
	if b.Band <= 0 {
		return 1
	}
	return b.Band
}

// EvalRequest asks an Evaluator to compute Expr pixel by pixel and write the
// result to Target.
type EvalRequest struct {
	Expr     expr.Node
	Bindings map[string]Binding

	Target string

	// NoData is written wherever any raster operand is no-data.
	// Nil writes NaN there and leaves the output without a sentinel.
	NoData *float64

	// DataType of the output. Unknown means Float32.
	DataType DataType

	// DefaultNaN and DefaultInf replace NaN and infinite results. Without
	// them such a result fails the evaluation.
	DefaultNaN *float64
	DefaultInf *float64

	// SubstituteInputs also applies DefaultNaN and DefaultInf to operand
	// values before any arithmetic.
	SubstituteInputs bool
}

// Evaluator is the elementwise raster arithmetic backend.
type Evaluator interface {
	// Evaluate writes the output raster and returns its handle.
	Evaluate(ctx context.Context, req EvalRequest) (Info, error)
}
