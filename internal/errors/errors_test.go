package errors

import (
	"fmt"
	"testing"
)

func TestEvaluationError_Is(t *testing.T) {
	err := NewEvaluation("a + b", fmt.Errorf("symbol b: %w", ErrMissingSymbol))

	if !Is(err, ErrEvaluation) {
		t.Error("expected ErrEvaluation")
	}
	if !Is(err, ErrMissingSymbol) {
		t.Error("expected ErrMissingSymbol")
	}

	var ee *EvaluationError
	if !As(err, &ee) {
		t.Fatal("expected *EvaluationError")
	}
	if ee.Expr != "a + b" {
		t.Errorf("expected expr 'a + b', got %q", ee.Expr)
	}
}

func TestNewEvaluation_NoDoubleWrap(t *testing.T) {
	inner := NewEvaluation("x", ErrSyntax)
	outer := NewEvaluation("y", Wrap(inner, "context"))

	var ee *EvaluationError
	if !As(outer, &ee) {
		t.Fatal("expected *EvaluationError")
	}
	if ee.Expr != "x" {
		t.Errorf("expected innermost expr to be kept, got %q", ee.Expr)
	}

	if NewEvaluation("x", nil) != nil {
		t.Error("expected nil for nil cause")
	}
}

func TestCategories(t *testing.T) {
	if !IsReconcile(Wrap(ErrAmbiguousPixelSize, "reconcile")) {
		t.Error("pixel size ambiguity should be a reconcile error")
	}
	if IsReconcile(ErrEmptyDataset) {
		t.Error("empty dataset is not a reconcile error")
	}
	if !IsValidation(ErrInvalidPercentile) {
		t.Error("invalid percentile should be a validation error")
	}
	if !IsRetriable(Wrapf(ErrRemoteFetch, "fetch %s", "http://x")) {
		t.Error("remote fetch should be retriable")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Error("empty collector should return nil")
	}

	v.AddField("spool.chunk_records", "must be positive")
	v.AddMissing("scratch_dir")

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !Is(err, ErrInvalidConfig) || !Is(err, ErrMissingField) {
		t.Error("expected both collected sentinels to match")
	}
}
