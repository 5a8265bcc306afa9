package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/rastercalc/internal/calc"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, " ")
}

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// splitAssign splits "name=value".
func splitAssign(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", s)
	}
	return name, value, nil
}

// parseSymbols builds a symbol table from -r, -s and -a flags. A symbol may
// be bound once.
func parseSymbols(rasters, scalars, arrays []string) (calc.SymbolTable, error) {
	symbols := make(calc.SymbolTable)
	add := func(name string, b calc.Binding) error {
		if _, dup := symbols[name]; dup {
			return fmt.Errorf("symbol %q bound twice", name)
		}
		symbols[name] = b
		return nil
	}

	for _, s := range rasters {
		lhs, path, err := splitAssign(s)
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("symbol %q: empty path", lhs)
		}
		name, band := lhs, 0
		if n, b, ok := strings.Cut(lhs, ":"); ok {
			name = n
			if band, err = strconv.Atoi(b); err != nil || band < 1 {
				return nil, fmt.Errorf("symbol %q: band %q must be a positive integer", n, b)
			}
		}
		if err := add(name, calc.Binding{Path: path, Band: band}); err != nil {
			return nil, err
		}
	}

	for _, s := range scalars {
		name, value, err := splitAssign(s)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		if err := add(name, calc.Binding{Scalar: &v}); err != nil {
			return nil, err
		}
	}

	for _, s := range arrays {
		name, value, err := splitAssign(s)
		if err != nil {
			return nil, err
		}
		var vals []float64
		for _, f := range strings.Split(value, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("symbol %q: %w", name, err)
			}
			vals = append(vals, v)
		}
		if err := add(name, calc.Binding{Array: vals}); err != nil {
			return nil, err
		}
	}

	return symbols, nil
}

// parsePixelSize parses "x,y". A single value sets both axes, with y
// negated for the usual north-up grid.
func parsePixelSize(s string) (raster.PixelSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return raster.PixelSize{}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return raster.PixelSize{}, fmt.Errorf("pixel size %q: expected x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return raster.PixelSize{}, fmt.Errorf("pixel size %q: %w", s, err)
	}
	if len(parts) == 1 {
		return raster.PixelSize{X: x, Y: -x}, nil
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return raster.PixelSize{}, fmt.Errorf("pixel size %q: %w", s, err)
	}
	return raster.PixelSize{X: x, Y: y}, nil
}

func parseResample(entries []string) (map[string]raster.Method, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]raster.Method, len(entries))
	for _, s := range entries {
		name, value, err := splitAssign(s)
		if err != nil {
			return nil, err
		}
		m, err := raster.ParseMethod(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out[name] = m
	}
	return out, nil
}
