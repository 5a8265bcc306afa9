// Package spool writes sorted tiles of raster values to temporary run files
// and reads them back sequentially.
//
// A run file is:
//   - Header: 8 bytes magic + 4 bytes version + 1 byte datatype +
//     1 byte codec + 2 bytes reserved + 8 bytes record count
//   - Body, optionally framed by lz4 or zstd: chunks of
//     [4 bytes length][4 bytes crc32][4 bytes records][payload]
//
// Payload records are fixed-width little-endian values in the raster's
// native datatype, so a run of Byte values costs one byte per pixel.
package spool
