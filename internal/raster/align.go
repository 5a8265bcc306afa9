package raster

import "context"

// AlignInput is one raster to put on the common grid.
type AlignInput struct {
	// Name identifies the input and names its aligned copy.
	Name string

	Info Info

	// Method resamples this input.
	Method Method
}

// AlignRequest asks an Aligner to resample, reproject and crop a set of
// rasters onto one grid covering their common intersection.
type AlignRequest struct {
	Inputs []AlignInput

	// PixelSize of the output grid.
	PixelSize PixelSize

	// Projection of the output grid.
	Projection string

	// Dir receives the aligned copies.
	Dir string
}

// Aligner is the external resample/reproject/crop primitive.
type Aligner interface {
	// Align writes one aligned copy per input and returns their handles in
	// input order.
	Align(ctx context.Context, req AlignRequest) ([]Info, error)
}
