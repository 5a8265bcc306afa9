// Package config loads and validates the rastercalc runtime configuration.
//
// Configuration is read from YAML, then overridden by RASTERCALC_* environment
// variables, then validated. The resulting value is passed explicitly to the
// components that need it; nothing here is process-global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/rastercalc/config"
)

// Config represents the complete rastercalc configuration.
type Config struct {
	// ScratchDir is the root for reconciled copies, spool runs and fetches.
	ScratchDir string `yaml:"scratch_dir" env:"SCRATCH_DIR"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`

	// Raster configures raster I/O.
	Raster RasterConfig `yaml:"raster" envPrefix:"RASTER_"`

	// Spool configures the tile sort spooler.
	Spool SpoolConfig `yaml:"spool" envPrefix:"SPOOL_"`

	// Percentile configures the percentile engine.
	Percentile PercentileConfig `yaml:"percentile" envPrefix:"PERCENTILE_"`

	// Fetch configures remote fetches.
	Fetch FetchConfig `yaml:"fetch" envPrefix:"FETCH_"`

	// Eval configures expression evaluation.
	Eval EvalConfig `yaml:"eval" envPrefix:"EVAL_"`

	// Retention configures the scratch sweeper.
	Retention RetentionConfig `yaml:"retention" envPrefix:"RETENTION_"`

	// Query configures the DuckDB inspection service.
	Query QueryConfig `yaml:"query" envPrefix:"QUERY_"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json" env:"JSON"`
}

// RasterConfig configures raster I/O.
type RasterConfig struct {
	// CacheBytes is the ceiling for decoded blocks held in memory.
	CacheBytes int64 `yaml:"cache_bytes" env:"CACHE_BYTES"`

	// BlockSize is the block edge length for rasters written by this process.
	BlockSize int `yaml:"block_size" env:"BLOCK_SIZE"`

	// Compression is the parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression" env:"COMPRESSION"`
}

// SpoolConfig configures the tile sort spooler.
type SpoolConfig struct {
	// Dir holds spool runs. Defaults to {ScratchDir}/spool.
	Dir string `yaml:"dir" env:"DIR"`

	// ChunkRecords is the number of records encoded per write.
	ChunkRecords int `yaml:"chunk_records" env:"CHUNK_RECORDS"`

	// BufferSize is the per-run read window in bytes.
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`

	// Compression frames spool files: none, lz4, zstd.
	Compression string `yaml:"compression" env:"COMPRESSION"`
}

// PercentileConfig configures the percentile engine.
type PercentileConfig struct {
	// Mode is exact or sketch.
	Mode string `yaml:"mode" env:"MODE"`

	// Accuracy is the relative accuracy for sketch mode (0.01 = 1%).
	Accuracy float64 `yaml:"accuracy" env:"ACCURACY"`

	// Order is sort or strict.
	Order string `yaml:"order" env:"ORDER"`
}

// FetchConfig configures remote fetches.
type FetchConfig struct {
	// Dir holds downloaded inputs. Defaults to {ScratchDir}/fetch.
	Dir string `yaml:"dir" env:"DIR"`

	// MaxRetries bounds retry attempts after the first failure.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// RequestsPerSec limits request starts. Zero disables limiting.
	RequestsPerSec float64 `yaml:"requests_per_sec" env:"REQUESTS_PER_SEC"`

	// S3 configures s3:// downloads.
	S3 S3Config `yaml:"s3" envPrefix:"S3_"`
}

// S3Config configures s3:// downloads.
type S3Config struct {
	// Backend is aws or minio.
	Backend string `yaml:"backend" env:"BACKEND"`

	// Endpoint is required for minio, optional for aws.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`

	// Region for the aws backend.
	Region string `yaml:"region" env:"REGION"`

	// AccessKey and SecretKey are static credentials. When empty the default
	// credential chain is used.
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`

	// UseSSL applies to the minio backend.
	UseSSL bool `yaml:"use_ssl" env:"USE_SSL"`
}

// EvalConfig configures expression evaluation.
type EvalConfig struct {
	// Workers bounds parallel independent evaluations in a batch.
	Workers int `yaml:"workers" env:"WORKERS"`

	// Datatype is the default output datatype.
	Datatype string `yaml:"datatype" env:"DATATYPE"`
}

// RetentionConfig configures the scratch sweeper.
type RetentionConfig struct {
	// SpoolMaxAge is the age after which spool files are orphans.
	SpoolMaxAge time.Duration `yaml:"spool_max_age" env:"SPOOL_MAX_AGE"`

	// AlignedMaxAge is the age after which reconciled copies are removed.
	AlignedMaxAge time.Duration `yaml:"aligned_max_age" env:"ALIGNED_MAX_AGE"`
}

// QueryConfig configures the DuckDB inspection service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit" env:"MEMORY_LIMIT"`
}

// Load loads configuration from a YAML file, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ScratchDir: defaults.DefaultScratchDir,
		Logging: LoggingConfig{
			Level: "info",
		},
		Raster: RasterConfig{
			CacheBytes:  defaults.DefaultRasterCacheBytes,
			BlockSize:   defaults.DefaultBlockSize,
			Compression: defaults.DefaultRasterCompression,
		},
		Spool: SpoolConfig{
			ChunkRecords: defaults.DefaultSpoolChunkRecords,
			BufferSize:   defaults.DefaultSpoolBufferSize,
			Compression:  defaults.DefaultSpoolCompression,
		},
		Percentile: PercentileConfig{
			Mode:     defaults.DefaultPercentileMode,
			Accuracy: defaults.DefaultSketchAccuracy,
			Order:    defaults.DefaultPercentileOrder,
		},
		Fetch: FetchConfig{
			MaxRetries:     defaults.DefaultFetchMaxRetries,
			InitialBackoff: defaults.DefaultFetchInitialBackoff,
			MaxBackoff:     defaults.DefaultFetchMaxBackoff,
			Timeout:        defaults.DefaultFetchTimeout,
			RequestsPerSec: defaults.DefaultFetchRequestsPerSec,
			S3: S3Config{
				Backend: "aws",
				UseSSL:  true,
			},
		},
		Eval: EvalConfig{
			Workers:  defaults.DefaultEvalWorkers,
			Datatype: defaults.DefaultEvalDatatype,
		},
		Retention: RetentionConfig{
			SpoolMaxAge:   defaults.DefaultSpoolMaxAge,
			AlignedMaxAge: defaults.DefaultAlignedMaxAge,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
		},
	}
}

// SpoolDir returns the spool directory.
func (c *Config) SpoolDir() string {
	if c.Spool.Dir != "" {
		return c.Spool.Dir
	}
	return filepath.Join(c.ScratchDir, "spool")
}

// FetchDir returns the download directory.
func (c *Config) FetchDir() string {
	if c.Fetch.Dir != "" {
		return c.Fetch.Dir
	}
	return filepath.Join(c.ScratchDir, "fetch")
}

// AlignedDir returns the root for reconciled copies.
func (c *Config) AlignedDir() string {
	return filepath.Join(c.ScratchDir, "aligned")
}

// EnsureDirectories creates all scratch directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ScratchDir, c.SpoolDir(), c.FetchDir(), c.AlignedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
