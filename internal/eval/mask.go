package eval

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// memberSet answers set membership for mask evaluation.
type memberSet interface {
	Contains(v float64) bool
}

// newMemberSet returns a bitmap-backed set when every value is a class code
// that fits in uint32, and a hash set otherwise.
func newMemberSet(values []float64) memberSet {
	integral := true
	for _, v := range values {
		if !isCode(v) {
			integral = false
			break
		}
	}

	if integral {
		bm := roaring.New()
		for _, v := range values {
			bm.Add(uint32(v))
		}
		return codeSet{bm}
	}

	fs := make(floatSet, len(values))
	for _, v := range values {
		fs[v] = struct{}{}
	}
	return fs
}

func isCode(v float64) bool {
	return v >= 0 && v <= math.MaxUint32 && v == math.Trunc(v)
}

type codeSet struct {
	bm *roaring.Bitmap
}

func (s codeSet) Contains(v float64) bool {
	return isCode(v) && s.bm.Contains(uint32(v))
}

type floatSet map[float64]struct{}

func (s floatSet) Contains(v float64) bool {
	_, ok := s[v]
	return ok
}
