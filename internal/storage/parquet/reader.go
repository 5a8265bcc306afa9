package parquet

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// RasterReader reads blocks from a raster file. It is safe for concurrent use.
type RasterReader struct {
	mu     sync.Mutex
	file   *os.File
	reader *parquet.GenericReader[BlockRow]
	info   raster.Info
	cache  *raster.BlockCache
	closed bool
}

// NewRasterReader opens the raster at path.
func NewRasterReader(path string, cache *raster.BlockCache) (*RasterReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("raster", path)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidRaster, path, err)
	}

	info, err := decodeMetadata(pf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidRaster, path, err)
	}
	info.Path = path

	if want := int64(info.NumBlocks() * info.Bands); pf.NumRows() != want {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %d blocks, want %d",
			errors.ErrInvalidRaster, path, pf.NumRows(), want)
	}

	return &RasterReader{
		file:   f,
		reader: parquet.NewGenericReader[BlockRow](f),
		info:   info,
		cache:  cache,
	}, nil
}

// decodeMetadata rebuilds the raster handle from file key/value metadata.
func decodeMetadata(pf *parquet.File) (raster.Info, error) {
	var info raster.Info

	lookup := func(key string) (string, error) {
		v, ok := pf.Lookup(key)
		if !ok {
			return "", fmt.Errorf("missing metadata %s", key)
		}
		return v, nil
	}
	lookupInt := func(key string) (int, error) {
		v, err := lookup(key)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("metadata %s: %w", key, err)
		}
		return n, nil
	}

	version, err := lookup(metaVersion)
	if err != nil {
		return info, err
	}
	if version != formatVersion {
		return info, fmt.Errorf("unsupported format version %s", version)
	}

	if info.Cols, err = lookupInt(metaCols); err != nil {
		return info, err
	}
	if info.Rows, err = lookupInt(metaRows); err != nil {
		return info, err
	}
	if info.Bands, err = lookupInt(metaBands); err != nil {
		return info, err
	}
	if info.BlockCols, err = lookupInt(metaBlockCols); err != nil {
		return info, err
	}
	if info.BlockRows, err = lookupInt(metaBlockRows); err != nil {
		return info, err
	}

	dt, err := lookup(metaDataType)
	if err != nil {
		return info, err
	}
	if info.DataType, err = raster.ParseDataType(dt); err != nil {
		return info, err
	}

	if nd, ok := pf.Lookup(metaNoData); ok && nd != "" {
		v, err := parseFloat(nd)
		if err != nil {
			return info, fmt.Errorf("metadata %s: %w", metaNoData, err)
		}
		info.NoData = raster.NoDataValue(v)
	}

	info.Projection, _ = pf.Lookup(metaProjection)

	gt, err := lookup(metaGeoTransform)
	if err != nil {
		return info, err
	}
	parts := strings.Split(gt, ",")
	if len(parts) != 4 {
		return info, fmt.Errorf("metadata %s: want 4 values, got %d", metaGeoTransform, len(parts))
	}
	var coeffs [4]float64
	for i, p := range parts {
		if coeffs[i], err = parseFloat(p); err != nil {
			return info, fmt.Errorf("metadata %s: %w", metaGeoTransform, err)
		}
	}
	info.GeoTransform = raster.GeoTransform{
		OriginX:     coeffs[0],
		PixelWidth:  coeffs[1],
		OriginY:     coeffs[2],
		PixelHeight: coeffs[3],
	}

	return info, info.Validate()
}

func parseFloat(s string) (float64, error) {
	if s == "nan" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Info returns the raster handle.
func (r *RasterReader) Info() raster.Info {
	return r.info
}

// ReadTile reads window w of band, assembling it from the overlapping blocks.
func (r *RasterReader) ReadTile(ctx context.Context, band int, w raster.Window) (raster.Tile, error) {
	if band < 1 || band > r.info.Bands {
		return raster.Tile{}, fmt.Errorf("band %d out of range [1,%d]", band, r.info.Bands)
	}
	if !w.Within(r.info.Cols, r.info.Rows) {
		return raster.Tile{}, fmt.Errorf("%w: %+v in %dx%d",
			errors.ErrWindowOutside, w, r.info.Cols, r.info.Rows)
	}

	out := raster.Tile{Window: w, Values: make([]float64, w.Len())}

	bc := r.info.BlockWindow(0, 0)
	bx0, bx1 := w.XOff/bc.Cols, (w.XOff+w.Cols-1)/bc.Cols
	by0, by1 := w.YOff/bc.Rows, (w.YOff+w.Rows-1)/bc.Rows

	for by := by0; by <= by1; by++ {
		for bx := bx0; bx <= bx1; bx++ {
			if err := ctx.Err(); err != nil {
				return raster.Tile{}, err
			}

			bw := r.info.BlockWindow(bx, by)
			values, err := r.block(band, bx, by)
			if err != nil {
				return raster.Tile{}, err
			}

			// Copy the overlap of block and window.
			x0 := max(bw.XOff, w.XOff)
			x1 := min(bw.XOff+bw.Cols, w.XOff+w.Cols)
			y0 := max(bw.YOff, w.YOff)
			y1 := min(bw.YOff+bw.Rows, w.YOff+w.Rows)
			for y := y0; y < y1; y++ {
				src := values[(y-bw.YOff)*bw.Cols+(x0-bw.XOff) : (y-bw.YOff)*bw.Cols+(x1-bw.XOff)]
				dst := out.Values[(y-w.YOff)*w.Cols+(x0-w.XOff):]
				copy(dst, src)
			}
		}
	}

	return out, nil
}

// block returns the decoded values of one block, from cache when possible.
// The returned slice is shared and must not be modified.
func (r *RasterReader) block(band, bx, by int) ([]float64, error) {
	key := raster.BlockKey{Path: r.info.Path, Band: band, BX: bx, BY: by}
	if values, ok := r.cache.Get(key); ok {
		return values, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ErrIteratorClosed
	}

	idx := int64((band-1)*r.info.NumBlocks() + by*r.info.BlocksX() + bx)
	if err := r.reader.SeekToRow(idx); err != nil {
		return nil, fmt.Errorf("seek block %d: %w", idx, err)
	}

	rows := make([]BlockRow, 1)
	n, err := r.reader.Read(rows)
	if n == 0 {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read block %d: %w", idx, err)
	}

	row := rows[0]
	want := r.info.BlockWindow(bx, by)
	if int(row.Band) != band || int(row.BlockX) != bx || int(row.BlockY) != by ||
		len(row.Values) != want.Len() {
		return nil, fmt.Errorf("%w: block %d holds band %d (%d,%d) with %d values",
			errors.ErrInvalidRaster, idx, row.Band, row.BlockX, row.BlockY, len(row.Values))
	}

	r.cache.Put(key, row.Values)
	return row.Values, nil
}

// Close closes the reader.
func (r *RasterReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *RasterReader) Path() string {
	return r.info.Path
}

// FileInfo holds information about a raster file.
type FileInfo struct {
	Path     string
	Size     int64
	NumRows  int64
	Metadata map[string]string
}

// GetFileInfo returns information about a raster file without decoding blocks.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRaster, err)
	}

	info := &FileInfo{
		Path:     path,
		Size:     stat.Size(),
		NumRows:  pf.NumRows(),
		Metadata: make(map[string]string),
	}

	for _, key := range []string{
		metaVersion, metaCols, metaRows, metaBands, metaBlockCols, metaBlockRows,
		metaDataType, metaNoData, metaProjection, metaGeoTransform,
	} {
		if v, ok := pf.Lookup(key); ok {
			info.Metadata[key] = v
		}
	}

	return info, nil
}
