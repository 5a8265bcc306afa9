package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/storage/parquet"
	"github.com/xtxerr/rastercalc/internal/testutil"
)

func newService(t *testing.T) *Service {
	svc, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeRaster(t *testing.T) (string, *float64) {
	d := parquet.NewDriver(nil, parquet.DefaultOptions())
	path := filepath.Join(t.TempDir(), "r.parquet")
	info := testutil.WithBlocks(testutil.WithNoData(testutil.GridInfo(5, 2), -1), 2, 2)
	info.Bands = 2
	testutil.WriteRaster(t, d, path, info,
		[]float64{1, 2, 3, 4, 5, testutil.None, testutil.None, testutil.None, testutil.None, testutil.None},
		[]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	)
	return path, info.NoData
}

func TestService_Summary(t *testing.T) {
	svc := newService(t)
	path, nodata := writeRaster(t)
	ctx := context.Background()

	sum, err := svc.Summary(ctx, path, 1, nodata)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Count != 5 || sum.Min != 1 || sum.Max != 5 || sum.Mean != 3 {
		t.Errorf("unexpected band 1 summary %+v", sum)
	}

	sum, err = svc.Summary(ctx, path, 2, nodata)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Count != 10 || sum.Min != 10 || sum.Max != 100 {
		t.Errorf("unexpected band 2 summary %+v", sum)
	}

	// Without a sentinel the no-data pixels count as values.
	sum, err = svc.Summary(ctx, path, 1, nil)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Count != 10 || sum.Min != -1 {
		t.Errorf("unexpected summary without nodata %+v", sum)
	}

	if stats := svc.Stats(); stats.QueriesExecuted != 3 {
		t.Errorf("expected 3 queries executed, got %d", stats.QueriesExecuted)
	}
}

func TestService_SummaryEmpty(t *testing.T) {
	svc := newService(t)
	d := parquet.NewDriver(nil, parquet.DefaultOptions())
	path := filepath.Join(t.TempDir(), "empty.parquet")
	info := testutil.WithNoData(testutil.GridInfo(2, 1), -1)
	testutil.WriteRaster(t, d, path, info, []float64{testutil.None, testutil.None})

	if _, err := svc.Summary(context.Background(), path, 1, info.NoData); !errors.Is(err, errors.ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestService_QuantileDiscBounds(t *testing.T) {
	svc := newService(t)
	path, nodata := writeRaster(t)
	ctx := context.Background()

	tests := []struct {
		band int
		p    float64
		want float64
	}{
		{1, 0, 1},
		{1, 100, 5},
		{2, 0, 10},
		{2, 100, 100},
	}
	for _, tt := range tests {
		got, err := svc.QuantileDisc(ctx, path, tt.band, nodata, tt.p)
		if err != nil {
			t.Fatalf("QuantileDisc(band %d, %v): %v", tt.band, tt.p, err)
		}
		if got != tt.want {
			t.Errorf("QuantileDisc(band %d, %v) = %v, want %v", tt.band, tt.p, got, tt.want)
		}
	}

	if _, err := svc.QuantileDisc(ctx, path, 1, nodata, 101); !errors.Is(err, errors.ErrInvalidPercentile) {
		t.Errorf("expected ErrInvalidPercentile, got %v", err)
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	svc := newService(t)
	path, _ := writeRaster(t)

	results, err := svc.ExecuteSQL(context.Background(),
		"SELECT band, count(*) AS blocks FROM read_parquet('"+path+"') GROUP BY band ORDER BY band")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}

	// 5x2 raster in 2x2 blocks: 3 blocks per band.
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}
	if n, ok := results[0]["blocks"].(int64); !ok || n != 3 {
		t.Errorf("expected 3 blocks, got %v (%T)", results[0]["blocks"], results[0]["blocks"])
	}
}

func TestService_MissingFile(t *testing.T) {
	svc := newService(t)
	nodata := raster.NoDataValue(0)

	if _, err := svc.Summary(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"), 1, nodata); err == nil {
		t.Error("expected error for missing file")
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("expected 1 error counted, got %d", svc.Stats().Errors)
	}
}
