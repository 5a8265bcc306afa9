package config

import (
	"github.com/xtxerr/rastercalc/internal/errors"
)

// Validate checks the configuration for errors. Every problem found is
// reported, not just the first.
func (c *Config) Validate() error {
	verrs := errors.NewValidationErrors()

	if c.ScratchDir == "" {
		verrs.AddMissing("scratch_dir")
	}

	verrs.Add(errors.Wrap(c.Raster.Validate(), "raster"))
	verrs.Add(errors.Wrap(c.Spool.Validate(), "spool"))
	verrs.Add(errors.Wrap(c.Percentile.Validate(), "percentile"))
	verrs.Add(errors.Wrap(c.Fetch.Validate(), "fetch"))

	if c.Eval.Workers <= 0 {
		verrs.Add(errors.NewInvalidValue("eval.workers", c.Eval.Workers, "must be positive"))
	}

	if c.Retention.SpoolMaxAge <= 0 {
		verrs.Add(errors.NewInvalidValue("retention.spool_max_age", c.Retention.SpoolMaxAge, "must be positive"))
	}
	if c.Retention.AlignedMaxAge <= 0 {
		verrs.Add(errors.NewInvalidValue("retention.aligned_max_age", c.Retention.AlignedMaxAge, "must be positive"))
	}

	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

// Validate checks the raster configuration.
func (c *RasterConfig) Validate() error {
	var errs []error

	if c.CacheBytes < 0 {
		errs = append(errs, errors.New("cache_bytes must be non-negative"))
	}

	if c.BlockSize <= 0 {
		errs = append(errs, errors.New("block_size must be positive"))
	}

	validCodecs := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true,
	}
	if !validCodecs[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the spool configuration.
func (c *SpoolConfig) Validate() error {
	verrs := errors.NewValidationErrors()

	if c.ChunkRecords <= 0 {
		verrs.AddField("chunk_records", "must be positive")
	}

	if c.BufferSize < 16 {
		verrs.AddField("buffer_size", "must be at least 16 bytes")
	}

	switch c.Compression {
	case "", "none", "lz4", "zstd":
	default:
		verrs.Add(errors.NewInvalidValue("compression", c.Compression, "must be one of: none, lz4, zstd"))
	}

	return verrs.Err()
}

// Validate checks the percentile configuration.
func (c *PercentileConfig) Validate() error {
	var errs []error

	switch c.Mode {
	case "exact":
	case "sketch":
		if c.Accuracy <= 0 || c.Accuracy >= 1 {
			errs = append(errs, errors.New("accuracy must be between 0 and 1"))
		}
	default:
		errs = append(errs, errors.New("mode must be one of: exact, sketch"))
	}

	if c.Order != "sort" && c.Order != "strict" {
		errs = append(errs, errors.New("order must be one of: sort, strict"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the fetch configuration.
func (c *FetchConfig) Validate() error {
	var errs []error

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must be non-negative"))
	}

	if c.InitialBackoff <= 0 {
		errs = append(errs, errors.New("initial_backoff must be positive"))
	}

	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, errors.New("max_backoff must be >= initial_backoff"))
	}

	if c.RequestsPerSec < 0 {
		errs = append(errs, errors.New("requests_per_sec must be non-negative"))
	}

	switch c.S3.Backend {
	case "aws", "":
	case "minio":
		if c.S3.Endpoint == "" {
			errs = append(errs, errors.New("s3.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, errors.New("s3.backend must be one of: aws, minio"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
