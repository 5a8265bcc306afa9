// rastercalc evaluates raster expressions and percentile queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/xtxerr/rastercalc/internal/calc"
	"github.com/xtxerr/rastercalc/internal/config"
	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
	"github.com/xtxerr/rastercalc/internal/storage/parquet"
	"github.com/xtxerr/rastercalc/internal/storage/query"
	"github.com/xtxerr/rastercalc/internal/storage/retention"
)

// Version is set at build time via ldflags
var Version = "dev"

const usage = `usage: rastercalc [global flags] <command> [flags]

commands:
  eval        evaluate an expression into an output raster
              eval -o out.parquet -r a=a.parquet -r b:2=s3://bucket/b.parquet 'a - b'
  percentile  compute percentiles of one raster band
  inspect     print metadata and band statistics of a raster
  sweep       remove stale files from the scratch area
  version     print the version

exit status:
  1  evaluation or I/O failure
  2  invalid usage, request or configuration
  3  inputs cannot be reconciled without a target projection or pixel size
  4  remote fetch failed; retrying may succeed

global flags:
`

func main() {
	cfgPath := flag.String("config", "", "config file path")
	level := flag.String("log-level", "", "log level (overrides config)")
	jsonLog := flag.Bool("log-json", false, "JSON log output")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fail(err)
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}
	if *jsonLog {
		cfg.Logging.JSON = true
	}

	logging.Init(logging.Options{
		Level: logging.ParseLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})
	log := logging.Component("cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "eval":
		err = runEval(ctx, cfg, log, args)
	case "percentile":
		err = runPercentile(ctx, cfg, log, args)
	case "inspect":
		err = runInspect(ctx, cfg, args)
	case "sweep":
		err = runSweep(cfg, log, args)
	case "version":
		fmt.Println("rastercalc", Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		stop()
		fail(err)
	}
}

// loadConfig reads path when given, otherwise starts from defaults.
// Environment overrides apply in both cases.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func fail(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status listed in usage.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsValidation(err):
		return 2
	case errors.IsReconcile(err):
		return 3
	case errors.IsRetriable(err):
		return 4
	}
	return 1
}

// =============================================================================
// eval
// =============================================================================

func runEval(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var rasters, scalars, arrays, resample listFlag
	fs.Var(&rasters, "r", "raster symbol name[:band]=path (repeatable)")
	fs.Var(&scalars, "s", "scalar symbol name=value (repeatable)")
	fs.Var(&arrays, "a", "array symbol name=v1,v2,... (repeatable)")
	fs.Var(&resample, "resample", "resampling method name=method (repeatable)")
	output := fs.String("o", "", "output raster path")
	nodata := fs.String("nodata", "", "output no-data value")
	datatype := fs.String("datatype", cfg.Eval.Datatype, "output datatype")
	pixelSize := fs.String("pixel-size", "", "target pixel size x,y")
	projection := fs.String("projection", "", "target projection")
	defaultNaN := fs.String("default-nan", "", "value written for NaN results")
	defaultInf := fs.String("default-inf", "", "value written for infinite results")
	substitute := fs.Bool("substitute-inputs", false, "apply -default-nan and -default-inf to inputs")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: eval [flags] <expr>, got %d argument(s)", fs.NArg())
	}

	symbols, err := parseSymbols(rasters, scalars, arrays)
	if err != nil {
		return err
	}

	req := calc.Request{
		Expr:             fs.Arg(0),
		Symbols:          symbols,
		Target:           *output,
		TargetProjection: *projection,
		SubstituteInputs: *substitute,
	}
	if req.NoData, err = optionalFloat("nodata", *nodata); err != nil {
		return err
	}
	if req.DefaultNaN, err = optionalFloat("default-nan", *defaultNaN); err != nil {
		return err
	}
	if req.DefaultInf, err = optionalFloat("default-inf", *defaultInf); err != nil {
		return err
	}
	if req.DataType, err = raster.ParseDataType(*datatype); err != nil {
		return err
	}
	if req.TargetPixelSize, err = parsePixelSize(*pixelSize); err != nil {
		return err
	}
	if req.Resample, err = parseResample(resample); err != nil {
		return err
	}

	c, err := calc.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}

	res, err := c.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	color.Green("wrote %s", res.Output.Path)
	fmt.Printf("  grid:     %dx%d %s\n", res.Output.Cols, res.Output.Rows, res.Output.DataType)
	fmt.Printf("  pixel:    %s\n", res.Output.PixelSize())
	if res.Plan != nil {
		fmt.Printf("  plan:     %s\n", res.Plan.Action)
		for _, reason := range res.Plan.Reasons {
			fmt.Printf("            %s\n", reason)
		}
	}
	if len(res.Percentiles) > 0 {
		fmt.Printf("  resolved: %s\n", res.Resolved)
	}
	return nil
}

// =============================================================================
// percentile
// =============================================================================

func runPercentile(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("percentile", flag.ExitOnError)
	band := fs.Int("band", 1, "band index, 1-based")
	mode := fs.String("mode", cfg.Percentile.Mode, "exact or sketch")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: percentile [-band N] <path> <p>...")
	}

	ps := make([]float64, 0, fs.NArg()-1)
	for _, s := range fs.Args()[1:] {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("percentile %q: %w", s, err)
		}
		ps = append(ps, p)
	}

	cfg.Percentile.Mode = *mode
	c, err := calc.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}

	values, err := c.Percentiles(ctx, fs.Arg(0), *band, ps)
	if err != nil {
		return err
	}

	for i, p := range ps {
		fmt.Printf("%s %s\n", color.CyanString("p%-6g", p), strconv.FormatFloat(values[i], 'g', -1, 64))
	}
	return nil
}

// =============================================================================
// inspect
// =============================================================================

func runInspect(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: inspect <path>")
	}
	path := fs.Arg(0)

	fileInfo, err := parquet.GetFileInfo(path)
	if err != nil {
		return err
	}

	driver := parquet.NewDriver(raster.NewBlockCache(cfg.Raster.CacheBytes), parquet.Options{})
	info, err := raster.Stat(driver, path)
	if err != nil {
		return err
	}

	color.Cyan("%s", path)
	fmt.Printf("  size:       %s (%d blocks)\n", retention.FormatBytes(fileInfo.Size), fileInfo.NumRows)
	fmt.Printf("  grid:       %dx%d, %d band(s), %s\n", info.Cols, info.Rows, info.Bands, info.DataType)
	fmt.Printf("  block:      %dx%d\n", info.BlockCols, info.BlockRows)
	fmt.Printf("  pixel:      %s\n", info.PixelSize())
	fmt.Printf("  origin:     %g,%g\n", info.GeoTransform.OriginX, info.GeoTransform.OriginY)
	if info.Projection != "" {
		fmt.Printf("  projection: %s\n", info.Projection)
	}
	if info.NoData != nil {
		fmt.Printf("  nodata:     %g\n", *info.NoData)
	}

	qs, err := query.New(query.Options{MemoryLimit: cfg.Query.MemoryLimit})
	if err != nil {
		return err
	}
	defer qs.Close()

	for band := 1; band <= info.Bands; band++ {
		s, err := qs.Summary(ctx, path, band, info.NoData)
		if err != nil {
			color.Yellow("  band %d: %v", band, err)
			continue
		}
		fmt.Printf("  band %d:     count=%d min=%g max=%g mean=%g\n", band, s.Count, s.Min, s.Max, s.Mean)
	}
	return nil
}

// =============================================================================
// sweep
// =============================================================================

func runSweep(cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report without deleting")
	fs.Parse(args)

	m := retention.New(retention.Options{
		SpoolDir:      cfg.SpoolDir(),
		AlignedDir:    cfg.AlignedDir(),
		FetchDir:      cfg.FetchDir(),
		SpoolMaxAge:   cfg.Retention.SpoolMaxAge,
		AlignedMaxAge: cfg.Retention.AlignedMaxAge,
	})

	var results []retention.CleanupResult
	if *dryRun {
		results = m.DryRun()
	} else {
		results = m.RunCleanup()
	}

	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}

	var failed int
	for _, r := range results {
		fmt.Printf("%-8s %s %d, kept %d, freed %s\n",
			r.Area, verb, r.EntriesDeleted, r.EntriesSkipped, retention.FormatBytes(r.BytesFreed))
		for _, err := range r.Errors {
			log.Warn("sweep error", "area", r.Area.String(), "error", err)
			failed++
		}
	}
	fmt.Print(m.FormatDiskUsage())

	if failed > 0 {
		return fmt.Errorf("%d error(s) during sweep", failed)
	}
	return nil
}

// optionalFloat parses s, returning nil for an empty string.
func optionalFloat(name, s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	return &v, nil
}
