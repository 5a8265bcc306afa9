// Package testutil provides raster fixtures and concurrency helpers for
// rastercalc tests.
package testutil

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/rastercalc/internal/raster"
)

// None marks a no-data pixel in fixture values. It is replaced by the
// raster's sentinel when the fixture is built.
var None = math.Inf(-1)

// GridInfo returns a single-band Float64 handle on a unit grid in EPSG:4326
// with top-left origin (0, rows).
func GridInfo(cols, rows int) raster.Info {
	return raster.Info{
		Cols:       cols,
		Rows:       rows,
		Bands:      1,
		DataType:   raster.Float64,
		Projection: "EPSG:4326",
		GeoTransform: raster.GeoTransform{
			OriginX:     0,
			PixelWidth:  1,
			OriginY:     float64(rows),
			PixelHeight: -1,
		},
	}
}

// WithNoData returns info with the given no-data sentinel.
func WithNoData(info raster.Info, nodata float64) raster.Info {
	info.NoData = raster.NoDataValue(nodata)
	return info
}

// WithBlocks returns info with the given block size.
func WithBlocks(info raster.Info, cols, rows int) raster.Info {
	info.BlockCols = cols
	info.BlockRows = rows
	return info
}

// fill replaces None with the sentinel of info.
func fill(info raster.Info, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == None && info.NoData != nil {
			v = *info.NoData
		}
		out[i] = v
	}
	return out
}

// =============================================================================
// In-memory Dataset
// =============================================================================

// MemDataset is an in-memory raster.Dataset.
type MemDataset struct {
	info  raster.Info
	bands [][]float64

	mu     sync.Mutex
	reads  int
	closed bool
}

// NewMemDataset builds a dataset from row-major band values.
// Values equal to None become the no-data sentinel.
func NewMemDataset(info raster.Info, bands ...[]float64) *MemDataset {
	if info.Bands == 0 {
		info.Bands = len(bands)
	}
	ds := &MemDataset{info: info}
	for _, b := range bands {
		if len(b) != info.Pixels() {
			panic(fmt.Sprintf("band has %d values, want %d", len(b), info.Pixels()))
		}
		ds.bands = append(ds.bands, fill(info, b))
	}
	return ds
}

// Info returns the raster handle.
func (d *MemDataset) Info() raster.Info {
	return d.info
}

// ReadTile copies window w of band.
func (d *MemDataset) ReadTile(ctx context.Context, band int, w raster.Window) (raster.Tile, error) {
	if err := ctx.Err(); err != nil {
		return raster.Tile{}, err
	}
	if band < 1 || band > len(d.bands) {
		return raster.Tile{}, fmt.Errorf("band %d out of range", band)
	}
	if !w.Within(d.info.Cols, d.info.Rows) {
		return raster.Tile{}, fmt.Errorf("window %+v outside raster", w)
	}

	d.mu.Lock()
	d.reads++
	d.mu.Unlock()

	src := d.bands[band-1]
	t := raster.Tile{Window: w, Values: make([]float64, 0, w.Len())}
	for r := w.YOff; r < w.YOff+w.Rows; r++ {
		row := r * d.info.Cols
		t.Values = append(t.Values, src[row+w.XOff:row+w.XOff+w.Cols]...)
	}
	return t, nil
}

// Close marks the dataset closed.
func (d *MemDataset) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Reads returns the number of ReadTile calls.
func (d *MemDataset) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// FailingDataset wraps a dataset and fails ReadTile after n successful reads.
type FailingDataset struct {
	raster.Dataset
	After int
	Err   error

	mu    sync.Mutex
	count int
}

// ReadTile reads from the wrapped dataset until the failure point.
func (f *FailingDataset) ReadTile(ctx context.Context, band int, w raster.Window) (raster.Tile, error) {
	f.mu.Lock()
	f.count++
	n := f.count
	f.mu.Unlock()

	if n > f.After {
		return raster.Tile{}, f.Err
	}
	return f.Dataset.ReadTile(ctx, band, w)
}

// =============================================================================
// File Fixtures
// =============================================================================

// WriteRaster writes bands to path through d and returns the committed handle.
func WriteRaster(t *testing.T, d raster.Driver, path string, info raster.Info, bands ...[]float64) raster.Info {
	t.Helper()

	if info.Bands == 0 {
		info.Bands = len(bands)
	}
	ds := NewMemDataset(info, bands...)

	w, err := d.Create(path, info)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}

	ctx := context.Background()
	for band := 1; band <= info.Bands; band++ {
		for _, win := range raster.Blocks(info) {
			tile, err := ds.ReadTile(ctx, band, win)
			if err != nil {
				w.Abort()
				t.Fatalf("read fixture: %v", err)
			}
			if err := w.WriteTile(ctx, band, tile); err != nil {
				w.Abort()
				t.Fatalf("write %s: %v", path, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}

	got, err := raster.Stat(d, path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return got
}

// ReadBand reads a whole band from path through d.
func ReadBand(t *testing.T, d raster.Driver, path string, band int) (raster.Info, []float64) {
	t.Helper()

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer ds.Close()

	info := ds.Info()
	tile, err := ds.ReadTile(context.Background(), band, raster.Window{Cols: info.Cols, Rows: info.Rows})
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return info, tile.Values
}

// SpoolFiles lists *.spool files under dir, recursively.
func SpoolFiles(t *testing.T, dir string) []string {
	t.Helper()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".spool") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(files)
	return files
}

// AssertNoSpoolFiles fails the test if dir holds any spool file.
func AssertNoSpoolFiles(t *testing.T, dir string) {
	t.Helper()
	if files := SpoolFiles(t, dir); len(files) > 0 {
		t.Errorf("expected no spool files in %s, found %v", dir, files)
	}
}

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest collects errors from goroutines so they never call t.Fatal.
//
//	gt := testutil.NewGoroutineTest(t)
//	defer gt.Wait()
//	gt.Go(func(ctx context.Context) error { return check(ctx) })
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	return NewGoroutineTestWithTimeout(t, time.Minute)
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context expires
// after timeout.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine with the helper's context.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping error: %v", err)
			}
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		gt.t.Errorf("goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}
