package percentile

import (
	"context"
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// Sketch estimates percentiles in one pass with a DDSketch. Results are
// within Accuracy relative error of the exact nearest-rank values.
type Sketch struct {
	// Accuracy is the relative accuracy (0.01 = 1%).
	Accuracy float64

	// Order is the percentile list policy.
	Order Order
}

// NewSketch creates a sketch estimator with the given relative accuracy.
func NewSketch(accuracy float64) *Sketch {
	return &Sketch{Accuracy: accuracy}
}

// Compute estimates one value per percentile in ps.
func (s *Sketch) Compute(ctx context.Context, ds raster.Dataset, band int, ps []float64) ([]float64, error) {
	if err := Validate(ps, s.Order); err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return []float64{}, nil
	}

	sketch, err := ddsketch.NewDefaultDDSketch(s.Accuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}

	info := ds.Info()
	err = raster.ForEachTile(ctx, ds, band, func(t raster.Tile) error {
		for _, v := range t.Values {
			if !info.Valid(v) {
				continue
			}
			if err := sketch.Add(v); err != nil {
				return fmt.Errorf("add %v: %w", v, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s band %d: %w", info.Path, band, err)
	}

	if sketch.IsEmpty() {
		return nil, fmt.Errorf("%w: %s band %d", errors.ErrEmptyDataset, info.Path, band)
	}

	out := make([]float64, len(ps))
	for i, p := range ps {
		v, err := sketch.GetValueAtQuantile(p / 100)
		if err != nil {
			return nil, fmt.Errorf("quantile %v: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

// Count returns the number of valid pixels in band.
func Count(ctx context.Context, ds raster.Dataset, band int) (int64, error) {
	info := ds.Info()
	var total int64
	err := raster.ForEachTile(ctx, ds, band, func(t raster.Tile) error {
		for _, v := range t.Values {
			if info.Valid(v) {
				total++
			}
		}
		return nil
	})
	return total, err
}

var (
	_ Computer = (*Engine)(nil)
	_ Computer = (*Sketch)(nil)
)
