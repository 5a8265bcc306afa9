package calc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xtxerr/rastercalc/internal/config"
	"github.com/xtxerr/rastercalc/internal/eval"
	"github.com/xtxerr/rastercalc/internal/fetch"
	"github.com/xtxerr/rastercalc/internal/percentile"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/raster/warp"
	"github.com/xtxerr/rastercalc/internal/reconcile"
	"github.com/xtxerr/rastercalc/internal/storage/parquet"
	"github.com/xtxerr/rastercalc/internal/storage/spool"
)

// NewFromConfig wires a Calculator from cfg: a parquet driver sharing one
// block cache, the native aligner, the configured percentile mode and the
// configured s3 backend.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	cache := raster.NewBlockCache(cfg.Raster.CacheBytes)
	driver := parquet.NewDriver(cache, parquet.Options{
		Compression: parquet.ParseCompressionType(cfg.Raster.Compression),
	})

	computer, err := NewComputer(cfg, log)
	if err != nil {
		return nil, err
	}

	fopts := fetch.Options{
		Dir:            cfg.FetchDir(),
		MaxRetries:     cfg.Fetch.MaxRetries,
		InitialBackoff: cfg.Fetch.InitialBackoff,
		MaxBackoff:     cfg.Fetch.MaxBackoff,
		Timeout:        cfg.Fetch.Timeout,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
		Logger:         log,
	}
	store, err := fetch.NewObjectStore(ctx, fetch.S3Options{
		Backend:   cfg.Fetch.S3.Backend,
		Endpoint:  cfg.Fetch.S3.Endpoint,
		Region:    cfg.Fetch.S3.Region,
		AccessKey: cfg.Fetch.S3.AccessKey,
		SecretKey: cfg.Fetch.S3.SecretKey,
		UseSSL:    cfg.Fetch.S3.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 backend: %w", err)
	}
	fopts.S3 = store

	return New(Options{
		Driver:  driver,
		Fetcher: fetch.New(fopts),
		Reconciler: reconcile.New(reconcile.Options{
			Aligner:    warp.New(warp.Options{Driver: driver, BlockSize: cfg.Raster.BlockSize, Logger: log}),
			ScratchDir: cfg.AlignedDir(),
			Logger:     log,
		}),
		Percentiles: computer,
		Evaluator:   eval.New(eval.Options{Driver: driver, Logger: log}),
		Logger:      log,
	}), nil
}

// NewComputer returns the exact engine or the sketch estimator, as
// configured.
func NewComputer(cfg *config.Config, log *slog.Logger) (percentile.Computer, error) {
	order, err := percentile.ParseOrder(cfg.Percentile.Order)
	if err != nil {
		return nil, err
	}

	if cfg.Percentile.Mode == "sketch" {
		s := percentile.NewSketch(cfg.Percentile.Accuracy)
		s.Order = order
		return s, nil
	}

	codec, err := spool.ParseCodec(cfg.Spool.Compression)
	if err != nil {
		return nil, err
	}
	return percentile.NewEngine(percentile.Options{
		Spool: spool.Options{
			Dir:          cfg.SpoolDir(),
			ChunkRecords: cfg.Spool.ChunkRecords,
			BufferSize:   cfg.Spool.BufferSize,
			Compression:  codec,
			Logger:       log,
		},
		Order:  order,
		Logger: log,
	}), nil
}
