package raster

import (
	"context"
	"fmt"
	"strings"
)

// Dataset is an open, read-only raster.
type Dataset interface {
	// Info returns the raster handle.
	Info() Info

	// ReadTile reads window w of a 1-based band.
	ReadTile(ctx context.Context, band int, w Window) (Tile, error)

	// Close releases the dataset.
	Close() error
}

// Writer receives the blocks of a new raster.
//
// Tiles must be block windows and arrive in band-major, row-major block
// order. Nothing is visible at the target path until Close succeeds.
type Writer interface {
	WriteTile(ctx context.Context, band int, t Tile) error

	// Close commits the raster to its target path.
	Close() error

	// Abort discards everything written so far.
	Abort() error
}

// Driver opens and creates rasters of one file format.
type Driver interface {
	Open(path string) (Dataset, error)
	Create(path string, info Info) (Writer, error)
}

// Stat opens path, returns its handle and closes it again.
func Stat(d Driver, path string) (Info, error) {
	ds, err := d.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer ds.Close()
	return ds.Info(), nil
}

// Blocks returns the block windows of info in row-major order.
func Blocks(info Info) []Window {
	windows := make([]Window, 0, info.NumBlocks())
	for by := 0; by < info.BlocksY(); by++ {
		for bx := 0; bx < info.BlocksX(); bx++ {
			windows = append(windows, info.BlockWindow(bx, by))
		}
	}
	return windows
}

// ForEachTile reads every block of band in order and hands it to fn.
// Tiles are ephemeral: fn must not retain t.Values after returning.
func ForEachTile(ctx context.Context, ds Dataset, band int, fn func(t Tile) error) error {
	info := ds.Info()
	if band < 1 || band > info.Bands {
		return fmt.Errorf("band %d out of range [1,%d]", band, info.Bands)
	}

	for _, w := range Blocks(info) {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := ds.ReadTile(ctx, band, w)
		if err != nil {
			return fmt.Errorf("read block %+v: %w", w, err)
		}

		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Method is a resampling method used when aligning rasters.
type Method int

const (
	Nearest Method = iota
	Bilinear
	Average
	Mode
	Min
	Max
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Average:
		return "average"
	case Mode:
		return "mode"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod parses a resampling method name.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "nearest", "near", "":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "average", "mean":
		return Average, nil
	case "mode":
		return Mode, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	}
	return Nearest, fmt.Errorf("unknown resample method %q", s)
}
