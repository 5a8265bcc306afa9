// Package warp is the native raster alignment primitive: it resamples and
// crops rasters sharing one projection onto a common grid covering their
// intersection. Changing projection needs an external reprojection kernel
// and is reported as ErrReprojectUnsupported.
package warp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// gridEpsilon absorbs floating point noise when sizing the output grid.
const gridEpsilon = 1e-6

// Options configures an Aligner.
type Options struct {
	// Driver opens inputs and writes aligned copies.
	Driver raster.Driver

	// BlockSize is the block edge length of aligned copies.
	// Default: 256
	BlockSize int

	// Logger defaults to the "warp" component logger.
	Logger *slog.Logger
}

// Aligner implements raster.Aligner for same-projection inputs.
type Aligner struct {
	driver    raster.Driver
	blockSize int
	log       *slog.Logger
}

// New creates an aligner.
func New(opts Options) *Aligner {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 256
	}
	return &Aligner{
		driver:    opts.Driver,
		blockSize: opts.BlockSize,
		log:       logging.Or(opts.Logger, "warp"),
	}
}

// Grid computes the common output grid for req: the intersection of all
// input extents at the requested pixel size, north-up.
func Grid(req raster.AlignRequest) (raster.Info, error) {
	if len(req.Inputs) == 0 {
		return raster.Info{}, fmt.Errorf("no inputs to align")
	}

	proj := req.Projection
	if proj == "" {
		proj = req.Inputs[0].Info.Projection
	}
	for _, in := range req.Inputs {
		if in.Info.Projection != proj {
			return raster.Info{}, fmt.Errorf("%w: %s is in %q, target is %q",
				errors.ErrReprojectUnsupported, in.Name, in.Info.Projection, proj)
		}
	}

	ps := req.PixelSize
	if ps.IsZero() {
		ps = req.Inputs[0].Info.PixelSize()
	}
	pw, ph := math.Abs(ps.X), math.Abs(ps.Y)
	if pw == 0 || ph == 0 {
		return raster.Info{}, fmt.Errorf("pixel size %s must be non-zero", ps)
	}

	bounds := req.Inputs[0].Info.Bounds()
	for _, in := range req.Inputs[1:] {
		var ok bool
		if bounds, ok = bounds.Intersect(in.Info.Bounds()); !ok {
			return raster.Info{}, fmt.Errorf("%w: %s does not intersect the other inputs",
				errors.ErrNoOverlap, in.Name)
		}
	}

	cols := int(math.Floor((bounds.MaxX-bounds.MinX)/pw + gridEpsilon))
	rows := int(math.Floor((bounds.MaxY-bounds.MinY)/ph + gridEpsilon))
	if cols < 1 || rows < 1 {
		return raster.Info{}, fmt.Errorf("%w: intersection is smaller than one %s pixel",
			errors.ErrNoOverlap, ps)
	}

	return raster.Info{
		Cols:       cols,
		Rows:       rows,
		Projection: proj,
		GeoTransform: raster.GeoTransform{
			OriginX:     bounds.MinX,
			PixelWidth:  pw,
			OriginY:     bounds.MaxY,
			PixelHeight: -ph,
		},
	}, nil
}

// Align writes one aligned copy per input into req.Dir.
func (a *Aligner) Align(ctx context.Context, req raster.AlignRequest) ([]raster.Info, error) {
	grid, err := Grid(req)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create aligned dir: %w", err)
	}

	out := make([]raster.Info, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		info, err := a.alignOne(ctx, in, grid, req.Dir)
		if err != nil {
			return nil, fmt.Errorf("align %s: %w", in.Name, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (a *Aligner) alignOne(ctx context.Context, in raster.AlignInput, grid raster.Info, dir string) (raster.Info, error) {
	start := time.Now()

	src, err := a.driver.Open(in.Info.Path)
	if err != nil {
		return raster.Info{}, err
	}
	defer src.Close()

	srcInfo := src.Info()

	dst := grid
	dst.Path = filepath.Join(dir, safeName(in.Name)+".parquet")
	dst.Bands = srcInfo.Bands
	dst.DataType = srcInfo.DataType
	dst.NoData = srcInfo.NoData
	dst.BlockCols = min(a.blockSize, dst.Cols)
	dst.BlockRows = min(a.blockSize, dst.Rows)

	w, err := a.driver.Create(dst.Path, dst)
	if err != nil {
		return raster.Info{}, err
	}

	r := &resampler{src: src, srcInfo: srcInfo, dst: dst, method: in.Method}
	for band := 1; band <= dst.Bands; band++ {
		for _, win := range raster.Blocks(dst) {
			tile, err := r.block(ctx, band, win)
			if err != nil {
				w.Abort()
				return raster.Info{}, err
			}
			if err := w.WriteTile(ctx, band, tile); err != nil {
				w.Abort()
				return raster.Info{}, err
			}
		}
	}

	if err := w.Close(); err != nil {
		return raster.Info{}, err
	}

	a.log.Debug("aligned",
		"symbol", in.Name,
		"path", dst.Path,
		"cols", dst.Cols,
		"rows", dst.Rows,
		"method", in.Method.String(),
		"duration", time.Since(start),
	)
	return dst, nil
}

// safeName turns a symbol into a file name.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
