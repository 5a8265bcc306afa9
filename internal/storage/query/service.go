// Package query runs SQL over native raster files with DuckDB.
//
// Rasters are parquet files with one row per block and the pixel values of
// the block in a list column, so band statistics are an unnest away. The
// service is used to inspect outputs and to cross-check the percentile
// engine against an independent implementation.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/rastercalc/config"
	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/validation"
)

// Options configures the query service.
type Options struct {
	// MemoryLimit is the DuckDB memory limit, e.g. "1GB".
	MemoryLimit string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{MemoryLimit: config.DefaultQueryMemoryLimit}
}

// Service provides SQL over raster files.
type Service struct {
	mu sync.RWMutex

	db *sql.DB

	// Statistics
	stats ServiceStats
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Summary describes the valid pixels of one band.
type Summary struct {
	Count int64
	Min   float64
	Max   float64
	Mean  float64
}

// New creates a new query service backed by an in-memory DuckDB.
func New(opts Options) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", strings.ReplaceAll(opts.MemoryLimit, "'", "")))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{db: db}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// pixels returns a query selecting the valid pixels of one band as column
// v, and its arguments.
func pixels(path string, band int, nodata *float64) (string, []any) {
	query := `
		WITH px AS (
			SELECT unnest("values") AS v
			FROM read_parquet(?)
			WHERE band = ?
		)
		SELECT v FROM px WHERE NOT isnan(v)`
	args := []any{path, band}

	if nodata != nil && !math.IsNaN(*nodata) {
		query += ` AND v <> ?`
		args = append(args, *nodata)
	}
	return query, args
}

// Summary returns count, min, max and mean of the valid pixels of band.
// Pixels equal to nodata or NaN are excluded.
func (s *Service) Summary(ctx context.Context, path string, band int, nodata *float64) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inner, args := pixels(path, band, nodata)
	query := `SELECT count(v), min(v), max(v), avg(v) FROM (` + inner + `)`

	var sum Summary
	var lo, hi, mean sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&sum.Count, &lo, &hi, &mean)
	if err != nil {
		s.stats.Errors++
		return Summary{}, fmt.Errorf("summarize %s band %d: %w", path, band, err)
	}
	s.stats.QueriesExecuted++
	s.stats.RowsReturned++

	if sum.Count == 0 {
		return sum, fmt.Errorf("%w: %s band %d", errors.ErrEmptyDataset, path, band)
	}
	sum.Min, sum.Max, sum.Mean = lo.Float64, hi.Float64, mean.Float64
	return sum, nil
}

// QuantileDisc returns DuckDB's discrete quantile p (0-100) of the valid
// pixels of band. Interior quantiles may use a neighbouring rank compared
// to the nearest-rank engine; 0 and 100 always agree.
func (s *Service) QuantileDisc(ctx context.Context, path string, band int, nodata *float64, p float64) (float64, error) {
	if err := validation.ValidatePercentile(p); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inner, args := pixels(path, band, nodata)
	query := `SELECT quantile_disc(v, ?) FROM (` + inner + `)`

	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, append([]any{p / 100}, args...)...).Scan(&v); err != nil {
		s.stats.Errors++
		return 0, fmt.Errorf("quantile %v of %s band %d: %w", p, path, band, err)
	}
	s.stats.QueriesExecuted++
	s.stats.RowsReturned++

	if !v.Valid {
		return 0, fmt.Errorf("%w: %s band %d", errors.ErrEmptyDataset, path, band)
	}
	return v.Float64, nil
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}
