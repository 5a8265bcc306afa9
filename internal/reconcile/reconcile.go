// Package reconcile decides whether a set of rasters can be combined pixel
// by pixel as they are, and aligns them onto one grid when they cannot.
//
// Checks run in order: projection, pixel size, dimensions, then grid
// origin. Equal pixel size and dimensions alone do not prove two rasters
// cover the same pixels, so origins are compared as well.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/scratch"
)

// relTolerance is the relative tolerance for comparing grid coordinates.
const relTolerance = 1e-9

// Input is one named raster destined for an expression.
type Input struct {
	Name   string
	Info   raster.Info
	Method raster.Method
}

// Target holds optional caller overrides for the common grid.
type Target struct {
	// PixelSize is the requested pixel size; zero means none.
	PixelSize raster.PixelSize

	// Projection is the requested projection; empty means none.
	Projection string
}

// Action is the decision recorded in a Plan.
type Action int

const (
	// PassThrough uses the original rasters unchanged.
	PassThrough Action = iota

	// Align resamples and crops every input onto a common grid.
	Align
)

// String returns the action name.
func (a Action) String() string {
	if a == Align {
		return "align"
	}
	return "pass-through"
}

// Plan is the GeometricPlan for one evaluation.
type Plan struct {
	Action Action

	// Projection and PixelSize of the common grid.
	Projection string
	PixelSize  raster.PixelSize

	// Reasons lists every mismatch that forced alignment.
	Reasons []string

	// Dir holds aligned copies; empty for pass-through.
	Dir string

	inputs  []Input
	handles map[string]raster.Info
}

// Handle returns the reconciled handle for name.
func (p *Plan) Handle(name string) (raster.Info, bool) {
	info, ok := p.handles[name]
	return info, ok
}

// Handles returns the reconciled handles keyed by input name.
func (p *Plan) Handles() map[string]raster.Info {
	out := make(map[string]raster.Info, len(p.handles))
	for k, v := range p.handles {
		out[k] = v
	}
	return out
}

// Options configures a Reconciler.
type Options struct {
	// Aligner produces aligned copies.
	Aligner raster.Aligner

	// ScratchDir receives aligned copies, one directory per plan.
	ScratchDir string

	// Logger defaults to the "reconcile" component logger.
	Logger *slog.Logger
}

// Reconciler is the GeometricReconciler.
type Reconciler struct {
	aligner    raster.Aligner
	scratchDir string
	log        *slog.Logger
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	return &Reconciler{
		aligner:    opts.Aligner,
		scratchDir: opts.ScratchDir,
		log:        logging.Or(opts.Logger, "reconcile"),
	}
}

// Plan decides how to reconcile inputs without touching any file. key
// names the evaluation, usually its output path, and seeds the scratch
// directory name.
func (r *Reconciler) Plan(inputs []Input, target Target, key string) (*Plan, error) {
	plan := &Plan{
		Action:  PassThrough,
		inputs:  inputs,
		handles: make(map[string]raster.Info, len(inputs)),
	}
	for _, in := range inputs {
		plan.handles[in.Name] = in.Info
	}
	if len(inputs) == 0 {
		return plan, nil
	}

	// (1) projection
	projections := distinct(inputs, func(in Input) string { return in.Info.Projection })
	switch {
	case target.Projection != "":
		plan.Projection = target.Projection
	case len(projections) > 1:
		return nil, fmt.Errorf("%w: inputs use %s", errors.ErrAmbiguousProjection, strings.Join(projections, ", "))
	default:
		plan.Projection = projections[0]
	}
	for _, in := range inputs {
		if in.Info.Projection != plan.Projection {
			plan.Reasons = append(plan.Reasons,
				fmt.Sprintf("%s projection %q differs from %q", in.Name, in.Info.Projection, plan.Projection))
		}
	}

	// (2) pixel size
	sizes := distinctSizes(inputs)
	switch {
	case !target.PixelSize.IsZero():
		plan.PixelSize = absSize(target.PixelSize)
	case len(sizes) > 1:
		names := make([]string, len(sizes))
		for i, sz := range sizes {
			names[i] = sz.String()
		}
		return nil, fmt.Errorf("%w: inputs use %s", errors.ErrAmbiguousPixelSize, strings.Join(names, " and "))
	default:
		plan.PixelSize = sizes[0]
	}
	for _, in := range inputs {
		if !sameSize(absSize(in.Info.PixelSize()), plan.PixelSize) {
			plan.Reasons = append(plan.Reasons,
				fmt.Sprintf("%s pixel size %s differs from %s", in.Name, absSize(in.Info.PixelSize()), plan.PixelSize))
		}
	}

	// (3) dimensions and (4) grid origin, against the first input
	ref := inputs[0]
	for _, in := range inputs[1:] {
		if in.Info.Cols != ref.Info.Cols || in.Info.Rows != ref.Info.Rows {
			plan.Reasons = append(plan.Reasons, fmt.Sprintf("%s is %dx%d, %s is %dx%d",
				in.Name, in.Info.Cols, in.Info.Rows, ref.Name, ref.Info.Cols, ref.Info.Rows))
			continue
		}
		if !sameGrid(in.Info, ref.Info) {
			plan.Reasons = append(plan.Reasons, fmt.Sprintf("%s grid origin (%g,%g) differs from %s (%g,%g)",
				in.Name, in.Info.GeoTransform.OriginX, in.Info.GeoTransform.OriginY,
				ref.Name, ref.Info.GeoTransform.OriginX, ref.Info.GeoTransform.OriginY))
		}
	}

	if len(plan.Reasons) > 0 {
		plan.Action = Align
		plan.Dir = scratch.Dir(r.scratchDir, "aligned", planKey(key, inputs, plan))
	}
	return plan, nil
}

// Reconcile plans and, when needed, aligns inputs. Ambiguity errors are
// returned before any file is written.
func (r *Reconciler) Reconcile(ctx context.Context, inputs []Input, target Target, key string) (*Plan, error) {
	plan, err := r.Plan(inputs, target, key)
	if err != nil {
		return nil, err
	}

	if plan.Action == PassThrough {
		r.log.Debug("inputs already aligned", "inputs", len(inputs))
		return plan, nil
	}

	if r.aligner == nil {
		return nil, fmt.Errorf("alignment required but no aligner configured: %s", strings.Join(plan.Reasons, "; "))
	}

	start := time.Now()
	req := raster.AlignRequest{
		PixelSize:  plan.PixelSize,
		Projection: plan.Projection,
		Dir:        plan.Dir,
	}
	for _, in := range inputs {
		req.Inputs = append(req.Inputs, raster.AlignInput{Name: in.Name, Info: in.Info, Method: in.Method})
	}

	aligned, err := r.aligner.Align(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("align inputs: %w", err)
	}
	if len(aligned) != len(inputs) {
		return nil, fmt.Errorf("aligner returned %d rasters for %d inputs", len(aligned), len(inputs))
	}
	for i, in := range inputs {
		plan.handles[in.Name] = aligned[i]
	}

	r.log.Info("inputs aligned",
		"inputs", len(inputs),
		"dir", plan.Dir,
		"pixel_size", plan.PixelSize.String(),
		"reasons", len(plan.Reasons),
		"duration", time.Since(start),
	)
	return plan, nil
}

// planKey hashes everything that determines the aligned copies.
func planKey(key string, inputs []Input, plan *Plan) string {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	b := scratch.NewHashBuilder().
		String(key).
		String(plan.Projection).
		Float64(plan.PixelSize.X).
		Float64(plan.PixelSize.Y).
		Int(len(sorted))
	for _, in := range sorted {
		b.String(in.Name).String(in.Info.Path).Int(int(in.Method))
	}
	return b.Hex()
}

func distinct(inputs []Input, fn func(Input) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range inputs {
		v := fn(in)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// distinctSizes groups input pixel sizes by sameSize, keeping the first
// size seen in each group.
func distinctSizes(inputs []Input) []raster.PixelSize {
	var out []raster.PixelSize
	for _, in := range inputs {
		sz := absSize(in.Info.PixelSize())
		if !slices.ContainsFunc(out, func(o raster.PixelSize) bool { return sameSize(o, sz) }) {
			out = append(out, sz)
		}
	}
	return out
}

func absSize(p raster.PixelSize) raster.PixelSize {
	return raster.PixelSize{X: math.Abs(p.X), Y: math.Abs(p.Y)}
}

func sameSize(a, b raster.PixelSize) bool {
	return nearlyEqual(a.X, b.X) && nearlyEqual(a.Y, b.Y)
}

// sameGrid reports whether a and b share origin and orientation.
func sameGrid(a, b raster.Info) bool {
	ga, gb := a.GeoTransform, b.GeoTransform
	return nearlyEqual(ga.OriginX, gb.OriginX) && nearlyEqual(ga.OriginY, gb.OriginY) &&
		nearlyEqual(ga.PixelWidth, gb.PixelWidth) && nearlyEqual(ga.PixelHeight, gb.PixelHeight)
}

func nearlyEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= relTolerance*math.Max(scale, 1)
}
