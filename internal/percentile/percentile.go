// Package percentile answers nearest-rank percentile queries over the valid
// pixels of one raster band.
//
// Engine is exact and out-of-core: every block is filtered, sorted and
// spilled to a spool run, the runs are merged lazily, and all requested
// percentiles are resolved in one forward walk over the merged stream.
// Sketch trades exactness for a single pass in bounded memory.
package percentile

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
	"github.com/xtxerr/rastercalc/internal/storage/merge"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
	"github.com/xtxerr/rastercalc/internal/validation"
)

// Computer resolves percentiles of one band of a dataset.
type Computer interface {
	Compute(ctx context.Context, ds raster.Dataset, band int, ps []float64) ([]float64, error)
}

// Order controls how percentile lists that are not non-decreasing are handled.
type Order int

const (
	// OrderSort resolves in ascending order and restores the caller's order.
	OrderSort Order = iota

	// OrderStrict rejects lists that are not non-decreasing.
	OrderStrict
)

// ParseOrder parses "sort" or "strict".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "sort":
		return OrderSort, nil
	case "strict":
		return OrderStrict, nil
	}
	return OrderSort, fmt.Errorf("unknown percentile order %q", s)
}

// Rank returns the zero-based nearest rank of percentile p in a dataset of
// total values: floor(p/100 * total), clamped to total-1.
func Rank(p float64, total int64) int64 {
	rank := int64(math.Floor(p * float64(total) / 100))
	if rank >= total {
		rank = total - 1
	}
	if rank < 0 {
		rank = 0
	}
	return rank
}

// Validate checks every percentile is a number in [0,100] and, for
// OrderStrict, that the list is non-decreasing.
func Validate(ps []float64, order Order) error {
	for i, p := range ps {
		if err := validation.ValidatePercentile(p); err != nil {
			return fmt.Errorf("%w at position %d", err, i)
		}
	}
	if order == OrderStrict && !slices.IsSorted(ps) {
		return fmt.Errorf("%w: %v", errors.ErrUnsortedPercentiles, ps)
	}
	return nil
}

// Options configures an Engine.
type Options struct {
	// Spool configures run files. DataType is taken from each dataset.
	Spool spool.Options

	// Order is the percentile list policy.
	Order Order

	// Logger defaults to the "percentile" component logger.
	Logger *slog.Logger
}

// Engine is the exact out-of-core percentile engine. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	opts Options
	log  *slog.Logger
}

// NewEngine creates an exact percentile engine.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts: opts,
		log:  logging.Or(opts.Logger, "percentile"),
	}
}

// Compute returns one value per percentile in ps, in the caller's order.
//
// Every spool run created during the call is removed before Compute
// returns, whether it succeeds, fails or is cancelled.
func (e *Engine) Compute(ctx context.Context, ds raster.Dataset, band int, ps []float64) ([]float64, error) {
	if err := Validate(ps, e.opts.Order); err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return []float64{}, nil
	}

	info := ds.Info()
	start := time.Now()

	spoolOpts := e.opts.Spool
	spoolOpts.DataType = info.DataType
	if spoolOpts.Logger == nil {
		spoolOpts.Logger = e.log
	}

	spooler, err := spool.New(spoolOpts)
	if err != nil {
		return nil, err
	}
	// Runs not yet handed to the merge iterator are removed here.
	defer spooler.Cleanup()

	// The valid count is accumulated while spilling and is final before any
	// rank is computed.
	var total int64
	var runs []*spool.Run
	buf := make([]float64, 0, info.BlockWindow(0, 0).Len())

	err = raster.ForEachTile(ctx, ds, band, func(t raster.Tile) error {
		buf = buf[:0]
		for _, v := range t.Values {
			if info.Valid(v) {
				buf = append(buf, v)
			}
		}
		if len(buf) == 0 {
			return nil
		}

		run, err := spooler.Spill(ctx, buf)
		if err != nil {
			return err
		}
		runs = append(runs, run)
		total += int64(len(buf))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("spool %s band %d: %w", info.Path, band, err)
	}

	if total == 0 {
		return nil, fmt.Errorf("%w: %s band %d", errors.ErrEmptyDataset, info.Path, band)
	}

	it, err := merge.New(runs)
	if err != nil {
		return nil, fmt.Errorf("merge runs: %w", err)
	}
	defer it.Close()

	values, err := resolve(it, total, ps)
	if err != nil {
		return nil, err
	}

	e.log.Debug("percentiles resolved",
		"path", info.Path,
		"band", band,
		"total_valid", total,
		"runs", len(runs),
		"percentiles", len(ps),
		"chunks_skipped", it.Stats().ChunksSkipped,
		"duration", time.Since(start),
	)
	return values, nil
}

// stream is an ascending value sequence supporting cheap skips.
type stream interface {
	Next() bool
	Value() float64
	Skip(n int64) int64
	Err() error
}

// resolve walks s once, resolving ps in ascending order, and returns the
// values in the order of ps.
func resolve(s stream, total int64, ps []float64) ([]float64, error) {
	order := make([]int, len(ps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	out := make([]float64, len(ps))
	var offset int64 // values consumed from s
	var last float64

	for _, i := range order {
		rank := Rank(ps[i], total)

		// Equal ranks reuse the value just read.
		if rank < offset {
			out[i] = last
			continue
		}

		skip := rank - offset
		if n := s.Skip(skip); n != skip {
			return nil, streamEnded(s, rank, total)
		}
		if !s.Next() {
			return nil, streamEnded(s, rank, total)
		}

		last = s.Value()
		out[i] = last
		offset += skip + 1
	}

	return out, nil
}

func streamEnded(s stream, rank, total int64) error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("read rank %d of %d: %w", rank, total, err)
	}
	return fmt.Errorf("merged stream ended before rank %d of %d", rank, total)
}
