package warp

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/storage/parquet"
	"github.com/xtxerr/rastercalc/internal/testutil"
)

func newTestAligner() (*Aligner, raster.Driver) {
	d := parquet.NewDriver(nil, parquet.DefaultOptions())
	return New(Options{Driver: d, BlockSize: 3, Logger: logging.Discard()}), d
}

func gridAt(cols, rows int, originX, originY, size float64) raster.Info {
	info := testutil.GridInfo(cols, rows)
	info.GeoTransform = raster.GeoTransform{
		OriginX: originX, PixelWidth: size,
		OriginY: originY, PixelHeight: -size,
	}
	return info
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestAlign_CropsToIntersection(t *testing.T) {
	dir := t.TempDir()
	a, d := newTestAligner()

	ia := testutil.WriteRaster(t, d, filepath.Join(dir, "a.parquet"), gridAt(4, 4, 0, 4, 1), seq(16))
	ib := testutil.WriteRaster(t, d, filepath.Join(dir, "b.parquet"), gridAt(4, 4, 2, 6, 1), seq(16))

	out, err := a.Align(context.Background(), raster.AlignRequest{
		Inputs: []raster.AlignInput{
			{Name: "a", Info: ia, Method: raster.Nearest},
			{Name: "b", Info: ib, Method: raster.Nearest},
		},
		Dir: filepath.Join(dir, "aligned"),
	})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}

	for _, info := range out {
		if info.Cols != 2 || info.Rows != 2 {
			t.Errorf("%s: expected 2x2, got %dx%d", info.Path, info.Cols, info.Rows)
		}
		if info.GeoTransform.OriginX != 2 || info.GeoTransform.OriginY != 4 {
			t.Errorf("%s: unexpected origin %+v", info.Path, info.GeoTransform)
		}
	}

	// a: cols 2-3 of rows 0-1; b: cols 0-1 of rows 2-3.
	if _, got := testutil.ReadBand(t, d, out[0].Path, 1); !slices.Equal(got, []float64{2, 3, 6, 7}) {
		t.Errorf("a: unexpected values %v", got)
	}
	if _, got := testutil.ReadBand(t, d, out[1].Path, 1); !slices.Equal(got, []float64{8, 9, 12, 13}) {
		t.Errorf("b: unexpected values %v", got)
	}
}

func TestAlign_Downsample(t *testing.T) {
	values := []float64{
		1, 3, 5, 5,
		3, 3, 7, 9,
		0, 0, 2, 2,
		0, 8, 2, 4,
	}

	tests := []struct {
		method raster.Method
		want   []float64
	}{
		{raster.Average, []float64{2.5, 6.5, 2, 2.5}},
		{raster.Min, []float64{1, 5, 0, 2}},
		{raster.Max, []float64{3, 9, 8, 4}},
		{raster.Mode, []float64{3, 5, 0, 2}},
		{raster.Nearest, []float64{3, 9, 8, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			dir := t.TempDir()
			a, d := newTestAligner()
			info := testutil.WriteRaster(t, d, filepath.Join(dir, "src.parquet"), gridAt(4, 4, 0, 4, 1), values)

			out, err := a.Align(context.Background(), raster.AlignRequest{
				Inputs:    []raster.AlignInput{{Name: "x", Info: info, Method: tt.method}},
				PixelSize: raster.PixelSize{X: 2, Y: -2},
				Dir:       filepath.Join(dir, "aligned"),
			})
			if err != nil {
				t.Fatalf("Align: %v", err)
			}

			if _, got := testutil.ReadBand(t, d, out[0].Path, 1); !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAlign_BilinearUpsample(t *testing.T) {
	dir := t.TempDir()
	a, d := newTestAligner()
	info := testutil.WriteRaster(t, d, filepath.Join(dir, "src.parquet"), gridAt(2, 1, 0, 1, 1), []float64{0, 10})

	out, err := a.Align(context.Background(), raster.AlignRequest{
		Inputs:    []raster.AlignInput{{Name: "x", Info: info, Method: raster.Bilinear}},
		PixelSize: raster.PixelSize{X: 0.5, Y: -0.5},
		Dir:       filepath.Join(dir, "aligned"),
	})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}

	got, values := testutil.ReadBand(t, d, out[0].Path, 1)
	if got.Cols != 4 || got.Rows != 2 {
		t.Fatalf("expected 4x2, got %dx%d", got.Cols, got.Rows)
	}
	want := []float64{0, 2.5, 7.5, 10, 0, 2.5, 7.5, 10}
	if !slices.Equal(values, want) {
		t.Errorf("expected %v, got %v", want, values)
	}
}

func TestAlign_AverageSkipsNoData(t *testing.T) {
	dir := t.TempDir()
	a, d := newTestAligner()

	src := testutil.WithNoData(gridAt(2, 2, 0, 2, 1), -1)
	info := testutil.WriteRaster(t, d, filepath.Join(dir, "src.parquet"), src, []float64{4, -1, -1, 8})

	out, err := a.Align(context.Background(), raster.AlignRequest{
		Inputs:    []raster.AlignInput{{Name: "x", Info: info, Method: raster.Average}},
		PixelSize: raster.PixelSize{X: 2, Y: -2},
		Dir:       filepath.Join(dir, "aligned"),
	})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}

	got, values := testutil.ReadBand(t, d, out[0].Path, 1)
	if values[0] != 6 {
		t.Errorf("expected 6, got %v", values[0])
	}
	if got.NoData == nil || *got.NoData != -1 {
		t.Errorf("aligned copy should keep nodata, got %v", got.NoData)
	}
}

func TestAlign_ReprojectUnsupported(t *testing.T) {
	dir := t.TempDir()
	a, d := newTestAligner()

	other := gridAt(2, 2, 0, 2, 1)
	other.Projection = "EPSG:3857"
	ia := testutil.WriteRaster(t, d, filepath.Join(dir, "a.parquet"), gridAt(2, 2, 0, 2, 1), seq(4))
	ib := testutil.WriteRaster(t, d, filepath.Join(dir, "b.parquet"), other, seq(4))

	_, err := a.Align(context.Background(), raster.AlignRequest{
		Inputs: []raster.AlignInput{{Name: "a", Info: ia}, {Name: "b", Info: ib}},
		Dir:    filepath.Join(dir, "aligned"),
	})
	if !errors.Is(err, errors.ErrReprojectUnsupported) {
		t.Errorf("expected ErrReprojectUnsupported, got %v", err)
	}
}

func TestGrid_NoOverlap(t *testing.T) {
	_, err := Grid(raster.AlignRequest{
		Inputs: []raster.AlignInput{
			{Name: "a", Info: gridAt(2, 2, 0, 2, 1)},
			{Name: "b", Info: gridAt(2, 2, 10, 2, 1)},
		},
	})
	if !errors.Is(err, errors.ErrNoOverlap) {
		t.Errorf("expected ErrNoOverlap, got %v", err)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("ndvi/2020 v1"); got != "ndvi_2020_v1" {
		t.Errorf("unexpected name %q", got)
	}
}
