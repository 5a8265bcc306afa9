package percentile

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"testing"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/storage/parquet"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
	"github.com/xtxerr/rastercalc/internal/testutil"
)

func newEngine(t *testing.T, dir string, order Order) *Engine {
	t.Helper()
	opts := spool.DefaultOptions(dir, raster.Float64)
	opts.ChunkRecords = 3
	return NewEngine(Options{Spool: opts, Order: order, Logger: logging.Discard()})
}

// groundTruth sorts the valid values in memory and picks nearest ranks.
func groundTruth(info raster.Info, values []float64, ps []float64) []float64 {
	var valid []float64
	for _, v := range values {
		if info.Valid(v) {
			valid = append(valid, v)
		}
	}
	slices.Sort(valid)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = valid[Rank(p, int64(len(valid)))]
	}
	return out
}

func TestCompute_Scenario(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{"all valid", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, []float64{1, 6, 10}},
		{"half nodata", []float64{1, 2, 3, 4, 5, testutil.None, testutil.None, testutil.None, testutil.None, testutil.None}, []float64{1, 3, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			info := testutil.WithBlocks(testutil.WithNoData(testutil.GridInfo(5, 2), -9999), 2, 1)
			ds := testutil.NewMemDataset(info, tt.values)

			got, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, []float64{0, 50, 100})
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}

			testutil.AssertNoSpoolFiles(t, dir)
		})
	}
}

func TestCompute_MatchesGroundTruth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 10; trial++ {
		t.Run(fmt.Sprintf("trial_%d", trial), func(t *testing.T) {
			dir := t.TempDir()
			cols, rows := 5+rng.Intn(20), 5+rng.Intn(20)
			info := testutil.WithBlocks(testutil.WithNoData(testutil.GridInfo(cols, rows), -1), 4, 3)

			values := make([]float64, cols*rows)
			for i := range values {
				if rng.Float64() < 0.2 {
					values[i] = -1
				} else {
					values[i] = float64(rng.Intn(50))
				}
			}
			values[0] = 3 // at least one valid pixel
			ds := testutil.NewMemDataset(info, values)

			ps := []float64{0, 1, 10, 25, 33.3, 50, 50, 75, 90, 99, 99.9, 100}
			got, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, ps)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}

			want := groundTruth(info, values, ps)
			if !slices.Equal(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}

			// One pass equals independent passes.
			e := newEngine(t, dir, OrderSort)
			for i, p := range ps {
				single, err := e.Compute(context.Background(), ds, 1, []float64{p})
				if err != nil {
					t.Fatalf("Compute(%v): %v", p, err)
				}
				if single[0] != got[i] {
					t.Errorf("p=%v: single pass %v, batch %v", p, single[0], got[i])
				}
			}

			testutil.AssertNoSpoolFiles(t, dir)
		})
	}
}

func TestCompute_RestoresCallerOrder(t *testing.T) {
	dir := t.TempDir()
	ds := testutil.NewMemDataset(testutil.GridInfo(10, 1), []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})

	got, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, []float64{100, 0, 50})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if want := []float64{10, 1, 6}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCompute_StrictRejectsUnsorted(t *testing.T) {
	dir := t.TempDir()
	ds := testutil.NewMemDataset(testutil.GridInfo(3, 1), []float64{1, 2, 3})

	_, err := newEngine(t, dir, OrderStrict).Compute(context.Background(), ds, 1, []float64{50, 10})
	if !errors.Is(err, errors.ErrUnsortedPercentiles) {
		t.Errorf("expected ErrUnsortedPercentiles, got %v", err)
	}

	if _, err := newEngine(t, dir, OrderStrict).Compute(context.Background(), ds, 1, []float64{10, 10, 50}); err != nil {
		t.Errorf("non-decreasing list should pass: %v", err)
	}
}

func TestCompute_InvalidPercentile(t *testing.T) {
	ds := testutil.NewMemDataset(testutil.GridInfo(3, 1), []float64{1, 2, 3})
	e := newEngine(t, t.TempDir(), OrderSort)

	for _, p := range []float64{-1, 100.5, math.NaN()} {
		if _, err := e.Compute(context.Background(), ds, 1, []float64{p}); !errors.Is(err, errors.ErrInvalidPercentile) {
			t.Errorf("p=%v: expected ErrInvalidPercentile, got %v", p, err)
		}
	}
}

func TestCompute_EmptyDataset(t *testing.T) {
	dir := t.TempDir()
	info := testutil.WithNoData(testutil.GridInfo(4, 1), 0)
	ds := testutil.NewMemDataset(info, []float64{0, 0, math.NaN(), 0})

	_, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, []float64{50})
	if !errors.Is(err, errors.ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}

	// No percentiles requested is not an error.
	got, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty result, got %v, %v", got, err)
	}

	testutil.AssertNoSpoolFiles(t, dir)
}

func TestCompute_UnsupportedDatatype(t *testing.T) {
	info := testutil.GridInfo(2, 1)
	info.DataType = raster.Int64
	ds := testutil.NewMemDataset(info, []float64{1, 2})

	_, err := newEngine(t, t.TempDir(), OrderSort).Compute(context.Background(), ds, 1, []float64{50})
	if !errors.Is(err, errors.ErrUnsupportedDatatype) {
		t.Errorf("expected ErrUnsupportedDatatype, got %v", err)
	}
}

func TestCompute_ReadFailureLeavesNoSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	info := testutil.WithBlocks(testutil.GridInfo(6, 6), 2, 2)
	values := make([]float64, 36)
	for i := range values {
		values[i] = float64(i)
	}

	ds := &testutil.FailingDataset{
		Dataset: testutil.NewMemDataset(info, values),
		After:   4,
		Err:     fmt.Errorf("disk on fire"),
	}

	_, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, []float64{50})
	if err == nil {
		t.Fatal("expected read error")
	}

	testutil.AssertNoSpoolFiles(t, dir)
}

func TestCompute_CancelledLeavesNoSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	info := testutil.WithBlocks(testutil.GridInfo(6, 6), 2, 2)
	ds := testutil.NewMemDataset(info, make([]float64, 36))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newEngine(t, dir, OrderSort).Compute(ctx, ds, 1, []float64{50}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	testutil.AssertNoSpoolFiles(t, dir)
}

func TestCompute_EarlyTerminationLeavesNoSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	info := testutil.WithBlocks(testutil.GridInfo(20, 20), 5, 5)
	values := make([]float64, 400)
	for i := range values {
		values[i] = float64(i)
	}
	ds := testutil.NewMemDataset(info, values)

	// Only the lowest percentile: the merge stops after one value.
	got, err := newEngine(t, dir, OrderSort).Compute(context.Background(), ds, 1, []float64{0})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got[0] != 0 {
		t.Errorf("expected 0, got %v", got[0])
	}

	testutil.AssertNoSpoolFiles(t, dir)
}

func TestCompute_NativeRaster(t *testing.T) {
	dir := t.TempDir()
	driver := parquet.NewDriver(raster.NewBlockCache(1<<20), parquet.DefaultOptions())

	info := testutil.WithBlocks(testutil.WithNoData(testutil.GridInfo(4, 4), 255), 2, 2)
	info.DataType = raster.Byte
	values := []float64{
		7, 3, 255, 1,
		2, 255, 9, 4,
		8, 5, 6, 255,
		0, 255, 255, 3,
	}
	path := filepath.Join(dir, "byte.parquet")
	testutil.WriteRaster(t, driver, path, info, values)

	ds, err := driver.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	spoolDir := filepath.Join(dir, "spool")
	ps := []float64{0, 25, 50, 75, 100}
	got, err := newEngine(t, spoolDir, OrderSort).Compute(context.Background(), ds, 1, ps)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	want := groundTruth(ds.Info(), values, ps)
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	testutil.AssertNoSpoolFiles(t, spoolDir)
}

func TestRank(t *testing.T) {
	tests := []struct {
		p     float64
		total int64
		want  int64
	}{
		{0, 10, 0},
		{50, 10, 5},
		{100, 10, 9},
		{29, 100, 29},
		{99.9, 5, 4},
		{100, 1, 0},
	}
	for _, tt := range tests {
		if got := Rank(tt.p, tt.total); got != tt.want {
			t.Errorf("Rank(%v, %d) = %d, want %d", tt.p, tt.total, got, tt.want)
		}
	}
}

func TestSketch_WithinAccuracy(t *testing.T) {
	info := testutil.WithBlocks(testutil.GridInfo(100, 10), 10, 10)
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i + 1)
	}
	ds := testutil.NewMemDataset(info, values)

	s := NewSketch(0.01)
	ps := []float64{10, 50, 90}
	got, err := s.Compute(context.Background(), ds, 1, ps)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	exact := groundTruth(info, values, ps)
	for i := range ps {
		if rel := math.Abs(got[i]-exact[i]) / exact[i]; rel > 0.03 {
			t.Errorf("p=%v: estimate %v too far from %v", ps[i], got[i], exact[i])
		}
	}
}

func TestSketch_EmptyDataset(t *testing.T) {
	info := testutil.WithNoData(testutil.GridInfo(2, 1), -1)
	ds := testutil.NewMemDataset(info, []float64{-1, -1})

	if _, err := NewSketch(0.01).Compute(context.Background(), ds, 1, []float64{50}); !errors.Is(err, errors.ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestCount(t *testing.T) {
	info := testutil.WithNoData(testutil.GridInfo(5, 1), 0)
	ds := testutil.NewMemDataset(info, []float64{0, 1, math.NaN(), 2, 0})

	n, err := Count(context.Background(), ds, 1)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 valid pixels, got %d", n)
	}
}

func TestParseOrder(t *testing.T) {
	if o, err := ParseOrder("strict"); err != nil || o != OrderStrict {
		t.Errorf("ParseOrder(strict) = %v, %v", o, err)
	}
	if o, err := ParseOrder(""); err != nil || o != OrderSort {
		t.Errorf("ParseOrder(\"\") = %v, %v", o, err)
	}
	if _, err := ParseOrder("random"); err == nil {
		t.Error("expected error for unknown order")
	}
}
