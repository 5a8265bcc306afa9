// Package raster defines the raster model shared by every rastercalc component.
//
// Key types:
//   - Info: a RasterHandle, the immutable metadata of one raster on disk
//   - DataType: the element type of a band
//   - Window / Tile: a rectangular sub-grid and its pixel values
//   - Dataset / Driver / Writer: the raster I/O collaborator
//   - BlockCache: the bounded, process-wide cache of decoded blocks
//
// Concrete file formats live elsewhere (see internal/storage/parquet).
package raster
