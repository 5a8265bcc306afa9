package raster

import (
	"fmt"
	"math"
)

// GeoTransform maps pixel coordinates to georeferenced coordinates for a
// north-up raster. PixelHeight is negative for the usual top-left origin.
type GeoTransform struct {
	OriginX     float64
	PixelWidth  float64
	OriginY     float64
	PixelHeight float64
}

// PixelSize is the signed (x, y) size of one pixel in projection units.
type PixelSize struct {
	X float64
	Y float64
}

// String formats the pixel size as "x,y".
func (p PixelSize) String() string {
	return fmt.Sprintf("%g,%g", p.X, p.Y)
}

// IsZero reports whether no pixel size is set.
func (p PixelSize) IsZero() bool {
	return p.X == 0 && p.Y == 0
}

// Bounds is an axis-aligned bounding box in projection units.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Intersect returns the overlap of b and o and whether it is non-empty.
func (b Bounds) Intersect(o Bounds) (Bounds, bool) {
	r := Bounds{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
	return r, r.MinX < r.MaxX && r.MinY < r.MaxY
}

// Info is a RasterHandle: the immutable description of a raster on durable
// storage. Many handles may describe the same file.
type Info struct {
	Path string

	Cols  int
	Rows  int
	Bands int

	// Block layout used for tiled reads.
	BlockCols int
	BlockRows int

	DataType DataType

	// NoData is the band's no-data sentinel, or nil for none.
	NoData *float64

	// Projection is an opaque projection descriptor (WKT, EPSG code, ...).
	Projection string

	GeoTransform GeoTransform
}

// PixelSize returns the signed pixel size.
func (i Info) PixelSize() PixelSize {
	return PixelSize{X: i.GeoTransform.PixelWidth, Y: i.GeoTransform.PixelHeight}
}

// Bounds returns the raster extent.
func (i Info) Bounds() Bounds {
	gt := i.GeoTransform
	x0 := gt.OriginX
	x1 := gt.OriginX + float64(i.Cols)*gt.PixelWidth
	y0 := gt.OriginY
	y1 := gt.OriginY + float64(i.Rows)*gt.PixelHeight
	return Bounds{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
	}
}

// Pixels returns the number of pixels in one band.
func (i Info) Pixels() int {
	return i.Cols * i.Rows
}

// IsNoData reports whether v equals the no-data sentinel.
// A NaN sentinel matches NaN values.
func (i Info) IsNoData(v float64) bool {
	if i.NoData == nil {
		return false
	}
	nd := *i.NoData
	if math.IsNaN(nd) {
		return math.IsNaN(v)
	}
	return v == nd
}

// Valid reports whether v is a measurement: not no-data and not NaN.
func (i Info) Valid(v float64) bool {
	return !math.IsNaN(v) && !i.IsNoData(v)
}

// BlocksX returns the number of block columns.
func (i Info) BlocksX() int {
	return ceilDiv(i.Cols, i.blockCols())
}

// BlocksY returns the number of block rows.
func (i Info) BlocksY() int {
	return ceilDiv(i.Rows, i.blockRows())
}

// NumBlocks returns the number of blocks in one band.
func (i Info) NumBlocks() int {
	return i.BlocksX() * i.BlocksY()
}

// BlockWindow returns the window covered by block (bx, by), clipped to the
// raster edge.
func (i Info) BlockWindow(bx, by int) Window {
	bc, br := i.blockCols(), i.blockRows()
	w := Window{XOff: bx * bc, YOff: by * br, Cols: bc, Rows: br}
	if w.XOff+w.Cols > i.Cols {
		w.Cols = i.Cols - w.XOff
	}
	if w.YOff+w.Rows > i.Rows {
		w.Rows = i.Rows - w.YOff
	}
	return w
}

// Validate checks the structural invariants of the handle.
func (i Info) Validate() error {
	if i.Cols <= 0 || i.Rows <= 0 {
		return fmt.Errorf("dimensions %dx%d must be positive", i.Cols, i.Rows)
	}
	if i.Bands <= 0 {
		return fmt.Errorf("band count %d must be positive", i.Bands)
	}
	if i.GeoTransform.PixelWidth == 0 || i.GeoTransform.PixelHeight == 0 {
		return fmt.Errorf("pixel size %s must be non-zero", i.PixelSize())
	}
	if i.DataType == Unknown {
		return fmt.Errorf("datatype is unknown")
	}
	return nil
}

func (i Info) blockCols() int {
	if i.BlockCols <= 0 || i.BlockCols > i.Cols {
		return max(i.Cols, 1)
	}
	return i.BlockCols
}

func (i Info) blockRows() int {
	if i.BlockRows <= 0 || i.BlockRows > i.Rows {
		return max(i.Rows, 1)
	}
	return i.BlockRows
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// NoDataValue returns a pointer to v, for filling Info.NoData.
func NoDataValue(v float64) *float64 {
	return &v
}

// Window is a rectangular sub-region of a raster grid in pixel coordinates.
type Window struct {
	XOff int
	YOff int
	Cols int
	Rows int
}

// Len returns the number of pixels in the window.
func (w Window) Len() int {
	return w.Cols * w.Rows
}

// Within reports whether w lies entirely inside a cols x rows grid.
func (w Window) Within(cols, rows int) bool {
	return w.XOff >= 0 && w.YOff >= 0 && w.Cols > 0 && w.Rows > 0 &&
		w.XOff+w.Cols <= cols && w.YOff+w.Rows <= rows
}

// Tile is a window of one band read as a flat, row-major buffer.
type Tile struct {
	Window Window
	Values []float64
}

// At returns the value at (col, row) relative to the tile origin.
func (t Tile) At(col, row int) float64 {
	return t.Values[row*t.Window.Cols+col]
}
