package parquet

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// Options configures the raster writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default raster writer options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// BlockRow is one raster block in Parquet format.
type BlockRow struct {
	Band   int32     `parquet:"band"`
	BlockX int32     `parquet:"block_x"`
	BlockY int32     `parquet:"block_y"`
	XOff   int32     `parquet:"x_off"`
	YOff   int32     `parquet:"y_off"`
	Cols   int32     `parquet:"cols"`
	Rows   int32     `parquet:"rows"`
	Values []float64 `parquet:"values,list"`
}

// Metadata keys.
const (
	metaVersion      = "rastercalc.version"
	metaCols         = "rastercalc.cols"
	metaRows         = "rastercalc.rows"
	metaBands        = "rastercalc.bands"
	metaBlockCols    = "rastercalc.block_cols"
	metaBlockRows    = "rastercalc.block_rows"
	metaDataType     = "rastercalc.datatype"
	metaNoData       = "rastercalc.nodata"
	metaProjection   = "rastercalc.projection"
	metaGeoTransform = "rastercalc.geotransform"

	formatVersion = "1"
)

// encodeMetadata renders info as parquet key/value metadata options.
func encodeMetadata(info raster.Info) []parquet.WriterOption {
	gt := info.GeoTransform
	nodata := ""
	if info.NoData != nil {
		nodata = formatFloat(*info.NoData)
	}

	return []parquet.WriterOption{
		parquet.KeyValueMetadata(metaVersion, formatVersion),
		parquet.KeyValueMetadata(metaCols, strconv.Itoa(info.Cols)),
		parquet.KeyValueMetadata(metaRows, strconv.Itoa(info.Rows)),
		parquet.KeyValueMetadata(metaBands, strconv.Itoa(info.Bands)),
		parquet.KeyValueMetadata(metaBlockCols, strconv.Itoa(info.BlockCols)),
		parquet.KeyValueMetadata(metaBlockRows, strconv.Itoa(info.BlockRows)),
		parquet.KeyValueMetadata(metaDataType, info.DataType.String()),
		parquet.KeyValueMetadata(metaNoData, nodata),
		parquet.KeyValueMetadata(metaProjection, info.Projection),
		parquet.KeyValueMetadata(metaGeoTransform, strings.Join([]string{
			formatFloat(gt.OriginX), formatFloat(gt.PixelWidth),
			formatFloat(gt.OriginY), formatFloat(gt.PixelHeight),
		}, ",")),
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// RasterWriter writes a raster to a temporary file and renames it into place
// on Close.
type RasterWriter struct {
	mu      sync.Mutex
	path    string
	tmpPath string
	info    raster.Info
	file    *os.File
	writer  *parquet.GenericWriter[BlockRow]
	cache   *raster.BlockCache

	next   int // next expected block index across all bands
	closed bool
}

// NewRasterWriter creates a writer for a new raster at path.
func NewRasterWriter(path string, info raster.Info, opts Options, cache *raster.BlockCache) (*RasterWriter, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRaster, err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	info.Path = path
	tmpPath := path + ".tmp-" + uuid.NewString()

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	writerOpts = append(writerOpts, encodeMetadata(info)...)

	return &RasterWriter{
		path:    path,
		tmpPath: tmpPath,
		info:    info,
		file:    f,
		writer:  parquet.NewGenericWriter[BlockRow](f, writerOpts...),
		cache:   cache,
	}, nil
}

// WriteTile writes the next block. Blocks must arrive in file order.
func (w *RasterWriter) WriteTile(ctx context.Context, band int, t raster.Tile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	nBlocks := w.info.NumBlocks()
	if w.next >= nBlocks*w.info.Bands {
		return fmt.Errorf("all %d blocks already written", nBlocks*w.info.Bands)
	}

	wantBand := w.next/nBlocks + 1
	idx := w.next % nBlocks
	bx, by := idx%w.info.BlocksX(), idx/w.info.BlocksX()
	want := w.info.BlockWindow(bx, by)

	if band != wantBand || t.Window != want {
		return fmt.Errorf("out of order block: got band %d window %+v, want band %d window %+v",
			band, t.Window, wantBand, want)
	}
	if len(t.Values) != want.Len() {
		return fmt.Errorf("block has %d values, want %d", len(t.Values), want.Len())
	}

	values := make([]float64, len(t.Values))
	for i, v := range t.Values {
		values[i] = w.info.DataType.Clamp(v)
	}

	row := BlockRow{
		Band:   int32(band),
		BlockX: int32(bx),
		BlockY: int32(by),
		XOff:   int32(want.XOff),
		YOff:   int32(want.YOff),
		Cols:   int32(want.Cols),
		Rows:   int32(want.Rows),
		Values: values,
	}

	if _, err := w.writer.Write([]BlockRow{row}); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.next++
	return nil
}

// Close flushes the file and renames it to the target path.
// A raster with missing blocks is discarded.
func (w *RasterWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if want := w.info.NumBlocks() * w.info.Bands; w.next != want {
		w.discard()
		return fmt.Errorf("incomplete raster: wrote %d of %d blocks", w.next, want)
	}

	if err := w.writer.Close(); err != nil {
		w.discard()
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("sync: %w", err)
	}

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("rename: %w", err)
	}

	w.cache.Invalidate(w.path)
	return nil
}

// Abort discards the partially written raster.
func (w *RasterWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.discard()
}

func (w *RasterWriter) discard() error {
	w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the target path.
func (w *RasterWriter) Path() string {
	return w.path
}
