package parquet

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
)

func testInfo() raster.Info {
	return raster.Info{
		Cols:       5,
		Rows:       3,
		Bands:      2,
		BlockCols:  2,
		BlockRows:  2,
		DataType:   raster.Float64,
		NoData:     raster.NoDataValue(-9999),
		Projection: "EPSG:32633",
		GeoTransform: raster.GeoTransform{
			OriginX: 500000, PixelWidth: 10,
			OriginY: 4000000, PixelHeight: -10,
		},
	}
}

// pixel encodes band, col and row so every value is distinguishable.
func pixel(band, col, row int) float64 {
	return float64(band*1000 + row*10 + col)
}

func writeTestRaster(t *testing.T, d *Driver, path string, info raster.Info) {
	t.Helper()

	w, err := d.Create(path, info)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx := context.Background()
	for band := 1; band <= info.Bands; band++ {
		for _, win := range raster.Blocks(info) {
			tile := raster.Tile{Window: win, Values: make([]float64, win.Len())}
			for r := 0; r < win.Rows; r++ {
				for c := 0; c < win.Cols; c++ {
					tile.Values[r*win.Cols+c] = pixel(band, win.XOff+c, win.YOff+r)
				}
			}
			if err := w.WriteTile(ctx, band, tile); err != nil {
				t.Fatalf("WriteTile band %d %+v: %v", band, win, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRasterWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(raster.NewBlockCache(1<<20), DefaultOptions())

	info := testInfo()
	writeTestRaster(t, d, path, info)

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	got := ds.Info()
	if got.Path != path {
		t.Errorf("expected path %s, got %s", path, got.Path)
	}
	if got.Cols != 5 || got.Rows != 3 || got.Bands != 2 {
		t.Errorf("unexpected dimensions: %+v", got)
	}
	if got.Projection != info.Projection {
		t.Errorf("expected projection %q, got %q", info.Projection, got.Projection)
	}
	if got.GeoTransform != info.GeoTransform {
		t.Errorf("expected geotransform %+v, got %+v", info.GeoTransform, got.GeoTransform)
	}
	if got.NoData == nil || *got.NoData != -9999 {
		t.Errorf("expected nodata -9999, got %v", got.NoData)
	}
	if got.DataType != raster.Float64 {
		t.Errorf("expected float64, got %s", got.DataType)
	}

	// A window spanning four blocks.
	win := raster.Window{XOff: 1, YOff: 1, Cols: 3, Rows: 2}
	tile, err := ds.ReadTile(context.Background(), 2, win)
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	for r := 0; r < win.Rows; r++ {
		for c := 0; c < win.Cols; c++ {
			want := pixel(2, win.XOff+c, win.YOff+r)
			if v := tile.At(c, r); v != want {
				t.Errorf("(%d,%d): expected %v, got %v", c, r, want, v)
			}
		}
	}
}

func TestRasterRead_EveryBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, Options{Compression: CompressionSnappy})

	info := testInfo()
	writeTestRaster(t, d, path, info)

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	// Read blocks in reverse to exercise seeking backwards.
	blocks := raster.Blocks(info)
	for band := info.Bands; band >= 1; band-- {
		for i := len(blocks) - 1; i >= 0; i-- {
			win := blocks[i]
			tile, err := ds.ReadTile(context.Background(), band, win)
			if err != nil {
				t.Fatalf("ReadTile: %v", err)
			}
			if v := tile.At(0, 0); v != pixel(band, win.XOff, win.YOff) {
				t.Errorf("band %d block %+v: got %v", band, win, v)
			}
		}
	}
}

func TestRasterReader_CacheHits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	cache := raster.NewBlockCache(1 << 20)
	d := NewDriver(cache, DefaultOptions())

	writeTestRaster(t, d, path, testInfo())

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	win := raster.Window{XOff: 0, YOff: 0, Cols: 2, Rows: 2}
	for i := 0; i < 3; i++ {
		tile, err := ds.ReadTile(context.Background(), 1, win)
		if err != nil {
			t.Fatalf("ReadTile: %v", err)
		}
		// Mutating a tile must not leak into the cache.
		tile.Values[0] = math.NaN()
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %+v", stats)
	}

	tile, _ := ds.ReadTile(context.Background(), 1, win)
	if tile.Values[0] != pixel(1, 0, 0) {
		t.Errorf("cached block was modified: %v", tile.Values[0])
	}
}

func TestRasterReader_WindowOutside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())
	writeTestRaster(t, d, path, testInfo())

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	_, err = ds.ReadTile(context.Background(), 1, raster.Window{XOff: 4, YOff: 0, Cols: 2, Rows: 1})
	if !errors.Is(err, errors.ErrWindowOutside) {
		t.Errorf("expected ErrWindowOutside, got %v", err)
	}

	if _, err := ds.ReadTile(context.Background(), 3, raster.Window{Cols: 1, Rows: 1}); err == nil {
		t.Error("expected error for band out of range")
	}
}

func TestRasterWriter_NothingVisibleUntilClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())

	info := testInfo()
	w, err := d.Create(path, info)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	win := info.BlockWindow(0, 0)
	if err := w.WriteTile(context.Background(), 1, raster.Tile{Window: win, Values: make([]float64, win.Len())}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("target should not exist before Close, got %v", err)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir after Abort, got %d entries", len(entries))
	}

	if err := w.WriteTile(context.Background(), 1, raster.Tile{Window: win, Values: make([]float64, win.Len())}); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestRasterWriter_OutOfOrder(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver(nil, DefaultOptions())

	info := testInfo()
	w, err := d.Create(filepath.Join(dir, "r.parquet"), info)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Abort()

	win := info.BlockWindow(1, 0)
	err = w.WriteTile(context.Background(), 1, raster.Tile{Window: win, Values: make([]float64, win.Len())})
	if err == nil || !strings.Contains(err.Error(), "out of order") {
		t.Errorf("expected out of order error, got %v", err)
	}
}

func TestRasterWriter_IncompleteCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())

	w, err := d.Create(path, testInfo())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := w.Close(); err == nil {
		t.Error("expected error closing an incomplete raster")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("incomplete raster must not be committed")
	}
}

func TestRasterWriter_ClampsToDataType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())

	info := raster.Info{
		Cols: 3, Rows: 1, Bands: 1,
		DataType:     raster.Byte,
		GeoTransform: raster.GeoTransform{PixelWidth: 1, PixelHeight: -1},
	}

	w, err := d.Create(path, info)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tile := raster.Tile{Window: info.BlockWindow(0, 0), Values: []float64{-5, 2.6, 300}}
	if err := w.WriteTile(context.Background(), 1, tile); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	got, err := ds.ReadTile(context.Background(), 1, info.BlockWindow(0, 0))
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	want := []float64{0, 3, 255}
	for i := range want {
		if got.Values[i] != want[i] {
			t.Errorf("value %d: expected %v, got %v", i, want[i], got.Values[i])
		}
	}
}

func TestOpen_Missing(t *testing.T) {
	d := NewDriver(nil, DefaultOptions())
	_, err := d.Open(filepath.Join(t.TempDir(), "nope.parquet"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpen_NotARaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.parquet")
	if err := os.WriteFile(path, []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}

	d := NewDriver(nil, DefaultOptions())
	if _, err := d.Open(path); !errors.Is(err, errors.ErrInvalidRaster) {
		t.Errorf("expected ErrInvalidRaster, got %v", err)
	}
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())
	writeTestRaster(t, d, path, testInfo())

	fi, err := GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if fi.NumRows != 12 {
		t.Errorf("expected 12 block rows, got %d", fi.NumRows)
	}
	if fi.Metadata[metaProjection] != "EPSG:32633" {
		t.Errorf("unexpected projection metadata: %q", fi.Metadata[metaProjection])
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"snappy": CompressionSnappy,
		"zstd":   CompressionZstd,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"":       CompressionNone,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNaNNoDataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.parquet")
	d := NewDriver(nil, DefaultOptions())

	info := testInfo()
	info.NoData = raster.NoDataValue(math.NaN())
	writeTestRaster(t, d, path, info)

	got, err := raster.Stat(d, path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got.NoData == nil || !math.IsNaN(*got.NoData) {
		t.Errorf("expected NaN nodata, got %v", got.NoData)
	}
}
