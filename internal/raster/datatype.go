package raster

import (
	"fmt"
	"math"
	"strings"
)

// DataType is the element type of a raster band.
type DataType int

const (
	Unknown DataType = iota
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
	CFloat32
)

// String returns the lower-case name of the datatype.
func (d DataType) String() string {
	switch d {
	case Byte:
		return "byte"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case CFloat32:
		return "cfloat32"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Size returns the element width in bytes, or 0 if unknown.
func (d DataType) Size() int {
	switch d {
	case Byte:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64, CFloat32:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether d is an integer type.
func (d DataType) IsInteger() bool {
	switch d {
	case Byte, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		return true
	}
	return false
}

// IsFloat reports whether d is a real floating-point type.
func (d DataType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// Clamp converts v to the nearest value representable by d.
// Integer types round half away from zero and saturate at their range.
func (d DataType) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if d == Float32 {
		return float64(float32(v))
	}
	if !d.IsInteger() {
		return v
	}
	v = math.Round(v)
	if lo, hi, ok := d.bounds(); ok {
		v = math.Max(lo, math.Min(hi, v))
	}
	return v
}

func (d DataType) bounds() (float64, float64, bool) {
	switch d {
	case Byte:
		return 0, 255, true
	case Int16:
		return -32768, 32767, true
	case UInt16:
		return 0, 65535, true
	case Int32:
		return -2147483648, 2147483647, true
	case UInt32:
		return 0, 4294967295, true
	}
	return 0, 0, false
}

// ParseDataType parses a datatype name as produced by String.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte", "uint8":
		return Byte, nil
	case "int16":
		return Int16, nil
	case "uint16":
		return UInt16, nil
	case "int32":
		return Int32, nil
	case "uint32":
		return UInt32, nil
	case "int64":
		return Int64, nil
	case "uint64":
		return UInt64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "cfloat32":
		return CFloat32, nil
	}
	return Unknown, fmt.Errorf("unknown datatype %q", s)
}
