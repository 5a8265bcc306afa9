// Package errors provides the error taxonomy for rastercalc.
//
// This file provides:
// - Sentinel errors for all error conditions
// - EvaluationError, which attaches the offending expression text
// - Error category checking functions
// - Error wrapping utilities
// - A ValidationErrors collector used by config validation

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Spooling / statistics
	ErrUnsupportedDatatype = errors.New("unsupported datatype")
	ErrEmptyDataset        = errors.New("empty dataset: no valid pixels")
	ErrInvalidPercentile   = errors.New("invalid percentile")
	ErrUnsortedPercentiles = errors.New("percentiles must be non-decreasing")

	// Geometric reconciliation
	ErrAmbiguousProjection  = errors.New("ambiguous projection: inputs differ and no target projection given")
	ErrAmbiguousPixelSize   = errors.New("ambiguous pixel size: inputs differ and no target pixel size given")
	ErrReprojectUnsupported = errors.New("reprojection not supported by aligner")
	ErrNoOverlap            = errors.New("inputs do not overlap")
	ErrGridMismatch         = errors.New("raster grids do not match")

	// Expression evaluation
	ErrEvaluation    = errors.New("evaluation failed")
	ErrSyntax        = errors.New("syntax error")
	ErrMissingSymbol = errors.New("missing symbol binding")
	ErrNaNResult     = errors.New("result contains NaN and no default_nan was given")
	ErrInfResult     = errors.New("result contains Inf and no default_inf was given")

	// Remote fetch
	ErrRemoteFetch       = errors.New("remote fetch failed")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// Raster I/O
	ErrNotFound       = errors.New("not found")
	ErrInvalidRaster  = errors.New("invalid raster")
	ErrWindowOutside  = errors.New("window outside raster")
	ErrWriterClosed   = errors.New("writer is closed")
	ErrIteratorClosed = errors.New("iterator is closed")

	// Configuration
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidRequest = errors.New("invalid request")
	ErrMissingField   = errors.New("missing required field")
)

// ============================================================================
// Typed errors
// ============================================================================

// EvaluationError carries the expression text that failed to evaluate.
// It matches both ErrEvaluation and its cause under errors.Is.
type EvaluationError struct {
	Expr string
	Err  error
}

// NewEvaluation wraps err as an EvaluationError for expr.
// If err already is an EvaluationError it is returned unchanged.
func NewEvaluation(expr string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return err
	}
	return &EvaluationError{Expr: expr, Err: err}
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Expr, e.Err)
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *EvaluationError) Unwrap() []error {
	return []error{ErrEvaluation, e.Err}
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsReconcile returns true if err is a geometric reconciliation failure.
func IsReconcile(err error) bool {
	return errors.Is(err, ErrAmbiguousProjection) ||
		errors.Is(err, ErrAmbiguousPixelSize) ||
		errors.Is(err, ErrReprojectUnsupported) ||
		errors.Is(err, ErrNoOverlap)
}

// IsValidation returns true if err is an input validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPercentile) ||
		errors.Is(err, ErrUnsortedPercentiles) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrSyntax)
}

// IsRetriable returns true if the error is potentially retriable.
// Only remote fetch attempts are ever retried.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrRemoteFetch)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewInvalidRequest creates a request validation error.
func NewInvalidRequest(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidRequest)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
