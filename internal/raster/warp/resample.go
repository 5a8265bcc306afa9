package warp

import (
	"context"
	"math"

	"github.com/xtxerr/rastercalc/internal/raster"
)

// resampler fills output blocks of dst from src.
type resampler struct {
	src     raster.Dataset
	srcInfo raster.Info
	dst     raster.Info
	method  raster.Method
}

// span is a half-open interval in source pixel coordinates, where source
// pixel k covers [k, k+1).
type span struct{ lo, hi float64 }

func (s span) center() float64 { return (s.lo + s.hi) / 2 }

// colSpan maps output column c to source pixel coordinates.
func (r *resampler) colSpan(c int) span {
	dgt, sgt := r.dst.GeoTransform, r.srcInfo.GeoTransform
	x0 := dgt.OriginX + float64(c)*dgt.PixelWidth
	x1 := x0 + dgt.PixelWidth
	a := (x0 - sgt.OriginX) / sgt.PixelWidth
	b := (x1 - sgt.OriginX) / sgt.PixelWidth
	return span{math.Min(a, b), math.Max(a, b)}
}

// rowSpan maps output row r to source pixel coordinates.
func (r *resampler) rowSpan(row int) span {
	dgt, sgt := r.dst.GeoTransform, r.srcInfo.GeoTransform
	y0 := dgt.OriginY + float64(row)*dgt.PixelHeight
	y1 := y0 + dgt.PixelHeight
	a := (y0 - sgt.OriginY) / sgt.PixelHeight
	b := (y1 - sgt.OriginY) / sgt.PixelHeight
	return span{math.Min(a, b), math.Max(a, b)}
}

// block computes one output block.
func (r *resampler) block(ctx context.Context, band int, win raster.Window) (raster.Tile, error) {
	cols := make([]span, win.Cols)
	for i := range cols {
		cols[i] = r.colSpan(win.XOff + i)
	}
	rows := make([]span, win.Rows)
	for j := range rows {
		rows[j] = r.rowSpan(win.YOff + j)
	}

	// Source window covering the block footprint plus a one pixel margin.
	x0 := clamp(int(math.Floor(math.Min(cols[0].lo, cols[len(cols)-1].lo)))-1, 0, r.srcInfo.Cols-1)
	x1 := clamp(int(math.Ceil(math.Max(cols[0].hi, cols[len(cols)-1].hi)))+1, x0+1, r.srcInfo.Cols)
	y0 := clamp(int(math.Floor(math.Min(rows[0].lo, rows[len(rows)-1].lo)))-1, 0, r.srcInfo.Rows-1)
	y1 := clamp(int(math.Ceil(math.Max(rows[0].hi, rows[len(rows)-1].hi)))+1, y0+1, r.srcInfo.Rows)

	srcTile, err := r.src.ReadTile(ctx, band, raster.Window{XOff: x0, YOff: y0, Cols: x1 - x0, Rows: y1 - y0})
	if err != nil {
		return raster.Tile{}, err
	}

	s := sampler{tile: srcTile, info: r.srcInfo, fill: math.NaN()}
	if r.srcInfo.NoData != nil {
		s.fill = *r.srcInfo.NoData
	}

	out := raster.Tile{Window: win, Values: make([]float64, win.Len())}
	for j, rs := range rows {
		for i, cs := range cols {
			out.Values[j*win.Cols+i] = s.sample(r.method, cs, rs)
		}
	}
	return out, nil
}

// sampler reads source pixels from one tile.
type sampler struct {
	tile raster.Tile
	info raster.Info
	fill float64
	buf  []float64
}

// at returns source pixel (c, r), clamped to the tile.
func (s *sampler) at(c, r int) float64 {
	w := s.tile.Window
	c = clamp(c, w.XOff, w.XOff+w.Cols-1)
	r = clamp(r, w.YOff, w.YOff+w.Rows-1)
	return s.tile.Values[(r-w.YOff)*w.Cols+(c-w.XOff)]
}

func (s *sampler) sample(m raster.Method, cs, rs span) float64 {
	switch m {
	case raster.Bilinear:
		return s.bilinear(cs.center(), rs.center())
	case raster.Average, raster.Mode, raster.Min, raster.Max:
		return s.aggregate(m, cs, rs)
	default:
		return s.nearest(cs.center(), rs.center())
	}
}

func (s *sampler) nearest(x, y float64) float64 {
	return s.at(int(math.Floor(x)), int(math.Floor(y)))
}

// bilinear interpolates between the four surrounding pixel centers,
// ignoring invalid neighbours and renormalising the weights.
func (s *sampler) bilinear(x, y float64) float64 {
	fx, fy := x-0.5, y-0.5
	cx, cy := math.Floor(fx), math.Floor(fy)
	tx, ty := fx-cx, fy-cy
	c0, r0 := int(cx), int(cy)

	var sum, wsum float64
	for _, n := range [4]struct {
		c, r int
		w    float64
	}{
		{c0, r0, (1 - tx) * (1 - ty)},
		{c0 + 1, r0, tx * (1 - ty)},
		{c0, r0 + 1, (1 - tx) * ty},
		{c0 + 1, r0 + 1, tx * ty},
	} {
		if n.w == 0 {
			continue
		}
		v := s.at(n.c, n.r)
		if !s.info.Valid(v) {
			continue
		}
		sum += v * n.w
		wsum += n.w
	}

	if wsum == 0 {
		return s.fill
	}
	return sum / wsum
}

// aggregate combines the valid source pixels whose centers fall inside the
// output pixel. When upsampling no center falls inside, so the nearest
// pixel is used.
func (s *sampler) aggregate(m raster.Method, cs, rs span) float64 {
	c0, c1 := centersIn(cs)
	r0, r1 := centersIn(rs)
	if c0 >= c1 || r0 >= r1 {
		v := s.nearest(cs.center(), rs.center())
		if !s.info.Valid(v) {
			return s.fill
		}
		return v
	}

	s.buf = s.buf[:0]
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			if v := s.at(c, r); s.info.Valid(v) {
				s.buf = append(s.buf, v)
			}
		}
	}
	if len(s.buf) == 0 {
		return s.fill
	}

	switch m {
	case raster.Min:
		return minOf(s.buf)
	case raster.Max:
		return maxOf(s.buf)
	case raster.Mode:
		return modeOf(s.buf)
	default:
		var sum float64
		for _, v := range s.buf {
			sum += v
		}
		return sum / float64(len(s.buf))
	}
}

// centersIn returns the half-open index range of pixels whose center
// k+0.5 lies in [sp.lo, sp.hi).
func centersIn(sp span) (int, int) {
	return int(math.Ceil(sp.lo - 0.5)), int(math.Ceil(sp.hi - 0.5))
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Max(m, v)
	}
	return m
}

// modeOf returns the most frequent value; ties go to the smallest.
func modeOf(vs []float64) float64 {
	counts := make(map[float64]int, len(vs))
	best, bestN := vs[0], 0
	for _, v := range vs {
		counts[v]++
		n := counts[v]
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
