// Package parquet implements the native tiled raster file format.
//
// A raster file is a Parquet file with one row per block:
//   - rows are ordered band-major, then row-major by block, so block
//     (band, bx, by) is row (band-1)*nBlocks + by*nBlocksX + bx
//   - raster geometry, datatype and no-data live in file key/value metadata
//   - every column uses the configured codec (snappy, zstd, lz4, gzip)
//
// Driver implements raster.Driver on top of SampleWriter-style generic
// parquet writers and readers, with decoded blocks shared through a
// raster.BlockCache.
package parquet
