// Package config provides configuration defaults
// for the rastercalc application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or RASTERCALC_* environment
// variables.
package config

import "time"

// =============================================================================
// Scratch Defaults
// =============================================================================

const (
	// DefaultScratchDir is where reconciled copies and spool runs are written.
	// Override via config: scratch_dir
	DefaultScratchDir = "/var/tmp/rastercalc"
)

// =============================================================================
// Raster I/O Defaults
// =============================================================================

const (
	// DefaultRasterCacheBytes is the ceiling for decoded raster blocks held in
	// memory across all open datasets. It is set once at process start.
	// Override via config: raster.cache_bytes
	DefaultRasterCacheBytes = 256 * 1024 * 1024

	// DefaultBlockSize is the edge length of blocks in newly written rasters.
	// Override via config: raster.block_size
	DefaultBlockSize = 256

	// DefaultRasterCompression is the parquet codec for newly written rasters.
	// Override via config: raster.compression
	DefaultRasterCompression = "zstd"
)

// =============================================================================
// Spool Defaults
// =============================================================================

const (
	// DefaultSpoolChunkRecords is the number of fixed-width records encoded per
	// write when spilling a sorted tile.
	// Override via config: spool.chunk_records
	DefaultSpoolChunkRecords = 64 * 1024

	// DefaultSpoolBufferSize is the per-run read window in bytes. Memory used by
	// a merge is roughly runs * buffer_size.
	// Override via config: spool.buffer_size
	DefaultSpoolBufferSize = 64 * 1024

	// DefaultSpoolCompression frames spool files: none, lz4 or zstd.
	// Override via config: spool.compression
	DefaultSpoolCompression = "none"
)

// =============================================================================
// Percentile Defaults
// =============================================================================

const (
	// DefaultPercentileMode is exact (external merge) or sketch (DDSketch).
	// Override via config: percentile.mode
	DefaultPercentileMode = "exact"

	// DefaultSketchAccuracy is the relative accuracy of sketch mode.
	// Override via config: percentile.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultPercentileOrder is sort (resolve sorted, restore caller order) or
	// strict (reject non-decreasing input).
	// Override via config: percentile.order
	DefaultPercentileOrder = "sort"
)

// =============================================================================
// Remote Fetch Defaults
// =============================================================================

const (
	// DefaultFetchMaxRetries bounds retry attempts after the first failure.
	// Override via config: fetch.max_retries
	DefaultFetchMaxRetries = 5

	// DefaultFetchInitialBackoff is the first retry delay.
	// Override via config: fetch.initial_backoff
	DefaultFetchInitialBackoff = 500 * time.Millisecond

	// DefaultFetchMaxBackoff caps the exponential delay.
	// Override via config: fetch.max_backoff
	DefaultFetchMaxBackoff = 30 * time.Second

	// DefaultFetchTimeout bounds a single download attempt.
	// Override via config: fetch.timeout
	DefaultFetchTimeout = 10 * time.Minute

	// DefaultFetchRequestsPerSec limits request starts; 0 disables limiting.
	// Override via config: fetch.requests_per_sec
	DefaultFetchRequestsPerSec = 0
)

// =============================================================================
// Evaluation Defaults
// =============================================================================

const (
	// DefaultEvalWorkers is the number of independent evaluations run in
	// parallel by a batch.
	// Override via config: eval.workers
	DefaultEvalWorkers = 4

	// DefaultEvalDatatype is the output raster datatype.
	// Override via config: eval.datatype
	DefaultEvalDatatype = "float32"
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultSpoolMaxAge is the age after which a leftover spool file is
	// considered orphaned by a crashed process.
	// Override via config: retention.spool_max_age
	DefaultSpoolMaxAge = 24 * time.Hour

	// DefaultAlignedMaxAge is the age after which reconciled copies in the
	// scratch area are removed.
	// Override via config: retention.aligned_max_age
	DefaultAlignedMaxAge = 7 * 24 * time.Hour
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit is the DuckDB memory limit for inspection queries.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"
)
