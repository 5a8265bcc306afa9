// Package calc is the public entry point for raster calculations.
//
// A Calculator evaluates one expression against a symbol table in five
// steps: remote inputs are fetched, raster inputs are reconciled onto one
// grid, embedded percentile calls are resolved to literals, and the
// rewritten tree is handed to the elementwise evaluator, which writes the
// output raster atomically. Every failure is reported as an
// errors.EvaluationError carrying the expression text.
package calc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/expr"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/percentile"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/reconcile"
	"github.com/xtxerr/rastercalc/internal/validation"
)

// Binding binds one symbol. Exactly one of Path, Scalar or Array is set.
type Binding struct {
	// Path is a local path or a remote location (http, https, s3).
	Path string

	// Band is 1-based; 0 means band 1.
	Band int

	Scalar *float64
	Array  []float64
}

// SymbolTable maps symbol names to bindings.
type SymbolTable map[string]Binding

// Request describes one evaluation.
type Request struct {
	Expr    string
	Symbols SymbolTable

	// Target is the output raster path.
	Target string

	// NoData is the output no-data sentinel.
	NoData *float64

	// DataType of the output. Unknown means Float32.
	DataType raster.DataType

	// TargetPixelSize and TargetProjection override the common grid.
	TargetPixelSize  raster.PixelSize
	TargetProjection string

	// Resample selects the method per symbol; missing symbols use nearest.
	Resample map[string]raster.Method

	DefaultNaN       *float64
	DefaultInf       *float64
	SubstituteInputs bool
}

// Result describes a finished evaluation.
type Result struct {
	// Output is the written raster.
	Output raster.Info

	// Plan is the reconciliation decision.
	Plan *reconcile.Plan

	// Percentiles holds every resolved percentile call.
	Percentiles map[expr.Percentile]float64

	// Resolved is the expression after percentile substitution.
	Resolved string
}

// Fetcher resolves possibly remote locations to local paths.
type Fetcher interface {
	Fetch(ctx context.Context, loc string) (string, error)
}

// Options wires a Calculator.
type Options struct {
	Driver      raster.Driver
	Fetcher     Fetcher
	Reconciler  *reconcile.Reconciler
	Percentiles percentile.Computer
	Evaluator   raster.Evaluator

	// Logger defaults to the "calc" component logger.
	Logger *slog.Logger
}

// Calculator is the ExpressionResolver. It is safe for concurrent use when
// its collaborators are.
type Calculator struct {
	driver      raster.Driver
	fetcher     Fetcher
	reconciler  *reconcile.Reconciler
	percentiles percentile.Computer
	evaluator   raster.Evaluator
	log         *slog.Logger
}

// New creates a calculator.
func New(opts Options) *Calculator {
	return &Calculator{
		driver:      opts.Driver,
		fetcher:     opts.Fetcher,
		reconciler:  opts.Reconciler,
		percentiles: opts.Percentiles,
		evaluator:   opts.Evaluator,
		log:         logging.Or(opts.Logger, "calc"),
	}
}

// Evaluate runs req and writes its output raster.
func (c *Calculator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	res, err := c.evaluate(ctx, req)
	if err != nil {
		return nil, errors.NewEvaluation(req.Expr, err)
	}
	return res, nil
}

func (c *Calculator) evaluate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Target == "" {
		return nil, errors.NewMissingField("target")
	}

	tree, err := expr.Parse(req.Expr)
	if err != nil {
		return nil, err
	}
	if err := expr.Check(tree, func(s string) bool {
		_, ok := req.Symbols[s]
		return ok
	}); err != nil {
		return nil, err
	}

	// Only referenced symbols take part; unused bindings are ignored.
	names := expr.Symbols(tree)
	if err := validateSymbols(req.Symbols, names); err != nil {
		return nil, err
	}

	// Step 1: fetch remote inputs.
	local, err := c.fetch(ctx, names, req.Symbols)
	if err != nil {
		return nil, err
	}

	// Step 2: reconcile raster inputs onto one grid.
	plan, err := c.reconcile(ctx, names, local, req)
	if err != nil {
		return nil, err
	}

	// Step 3: resolve percentile calls against the reconciled rasters.
	values, err := c.resolvePercentiles(ctx, tree, local, plan)
	if err != nil {
		return nil, err
	}
	resolved, err := expr.Substitute(tree, values)
	if err != nil {
		return nil, err
	}

	// Steps 4 and 5: the evaluator takes the mask path for a top-level
	// mask call and the arithmetic path otherwise.
	bindings := make(map[string]raster.Binding, len(names))
	for _, name := range names {
		b := local[name]
		if info, ok := plan.Handle(name); ok {
			b.Path = info.Path
		}
		bindings[name] = raster.Binding{Path: b.Path, Band: b.Band, Scalar: b.Scalar, Array: b.Array}
	}

	out, err := c.evaluator.Evaluate(ctx, raster.EvalRequest{
		Expr:             resolved,
		Bindings:         bindings,
		Target:           req.Target,
		NoData:           req.NoData,
		DataType:         req.DataType,
		DefaultNaN:       req.DefaultNaN,
		DefaultInf:       req.DefaultInf,
		SubstituteInputs: req.SubstituteInputs,
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("expression evaluated",
		"expr", req.Expr,
		"resolved", resolved.String(),
		"path", req.Target,
		"plan", plan.Action.String(),
		"duration", time.Since(start),
	)
	return &Result{
		Output:      out,
		Plan:        plan,
		Percentiles: values,
		Resolved:    resolved.String(),
	}, nil
}

// validateSymbols checks every symbol name in the table and the bindings of
// the referenced ones.
func validateSymbols(symbols SymbolTable, referenced []string) error {
	verrs := errors.NewValidationErrors()

	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validation.ValidateSymbolName(name); err != nil {
			verrs.Add(errors.NewInvalidRequest("symbol "+strconv.Quote(name), err.Error()))
		}
	}

	for _, name := range referenced {
		b := symbols[name]
		kinds := 0
		if b.Path != "" {
			kinds++
			if _, err := validation.ParseLocation(b.Path); err != nil {
				verrs.Add(fmt.Errorf("symbol %s: %w", name, err))
			}
		}
		if b.Scalar != nil {
			kinds++
		}
		if b.Array != nil {
			kinds++
		}
		if kinds > 1 {
			verrs.Add(errors.NewInvalidRequest("symbol "+name, "binds more than one of path, scalar and array"))
		}
		if kinds == 0 {
			verrs.AddMissing("binding for symbol " + name)
		}
		if err := validation.ValidateBand(b.Band); err != nil {
			verrs.Add(errors.NewInvalidRequest("symbol "+name, err.Error()))
		}
	}
	return verrs.Err()
}

// fetch returns the symbol table with remote paths replaced by local ones.
func (c *Calculator) fetch(ctx context.Context, names []string, symbols SymbolTable) (SymbolTable, error) {
	local := make(SymbolTable, len(names))
	for _, name := range names {
		b := symbols[name]
		if b.Path != "" && c.fetcher != nil {
			p, err := c.fetcher.Fetch(ctx, b.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "fetch %s", name)
			}
			b.Path = p
		}
		local[name] = b
	}
	return local, nil
}

// reconcile plans and, when needed, aligns every raster-bound symbol.
func (c *Calculator) reconcile(ctx context.Context, names []string, symbols SymbolTable, req Request) (*reconcile.Plan, error) {
	var inputs []reconcile.Input
	for _, name := range names {
		b := symbols[name]
		if b.Path == "" {
			continue
		}
		info, err := raster.Stat(c.driver, b.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		inputs = append(inputs, reconcile.Input{
			Name:   name,
			Info:   info,
			Method: req.Resample[name],
		})
	}

	return c.reconciler.Reconcile(ctx, inputs, reconcile.Target{
		PixelSize:  req.TargetPixelSize,
		Projection: req.TargetProjection,
	}, req.Target)
}

// resolvePercentiles runs one engine pass per symbol covering all of that
// symbol's percentile calls.
func (c *Calculator) resolvePercentiles(ctx context.Context, tree expr.Node, symbols SymbolTable, plan *reconcile.Plan) (map[expr.Percentile]float64, error) {
	calls := expr.PercentileCalls(tree)
	values := make(map[expr.Percentile]float64, len(calls))
	if len(calls) == 0 {
		return values, nil
	}

	bySymbol := make(map[string][]float64)
	for _, call := range calls {
		bySymbol[call.Symbol] = append(bySymbol[call.Symbol], call.P)
	}
	syms := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		info, ok := plan.Handle(sym)
		if !ok {
			return nil, fmt.Errorf("percentile(%s, ...): %s is not bound to a raster", sym, sym)
		}

		ps := bySymbol[sym]
		sort.Float64s(ps)
		out, err := c.computePercentiles(ctx, info.Path, symbols[sym].Band, ps)
		if err != nil {
			return nil, fmt.Errorf("percentiles of %s: %w", sym, err)
		}
		for i, p := range ps {
			values[expr.Percentile{Symbol: sym, P: p}] = out[i]
		}
	}
	return values, nil
}

func (c *Calculator) computePercentiles(ctx context.Context, path string, band int, ps []float64) ([]float64, error) {
	if band <= 0 {
		band = 1
	}
	ds, err := c.driver.Open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return c.percentiles.Compute(ctx, ds, band, ps)
}

// Percentiles answers a standalone percentile request for one band of a
// local or remote raster, in the caller's order.
func (c *Calculator) Percentiles(ctx context.Context, path string, band int, ps []float64) ([]float64, error) {
	if err := validation.ValidateBand(band); err != nil {
		return nil, errors.NewInvalidRequest("band", err.Error())
	}
	if c.fetcher != nil {
		local, err := c.fetcher.Fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		path = local
	}
	return c.computePercentiles(ctx, path, band, ps)
}
