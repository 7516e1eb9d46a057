package zonal

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/raster"
)

// ToPixels maps a native-CRS polygon into fractional pixel coordinates.
func ToPixels(t raster.Transform, poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		pr := make(orb.Ring, len(r))
		for j, p := range r {
			col, row := t.ToPixel(p)
			pr[j] = orb.Point{col, row}
		}
		out[i] = pr
	}
	return out
}

// window is the half-open pixel range [c0, c1) x [r0, r1).
type window struct {
	c0, c1, r0, r1 int
}

func clipWindow(poly orb.Polygon, width, height int) (window, bool) {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return window{}, false
	}
	b := poly.Bound()
	w := window{
		c0: max(0, int(math.Floor(b.Min[0]))),
		c1: min(width, int(math.Ceil(b.Max[0]))),
		r0: max(0, int(math.Floor(b.Min[1]))),
		r1: min(height, int(math.Ceil(b.Max[1]))),
	}
	return w, w.c0 < w.c1 && w.r0 < w.r1
}

// crossings appends the sorted x positions where the horizontal line at y
// crosses the edges of every ring of poly.
func crossings(dst []float64, poly orb.Polygon, y float64) []float64 {
	for _, r := range poly {
		n := len(r)
		for i := 0; i < n; i++ {
			a, b := r[i], r[(i+1)%n]
			if (a[1] > y) != (b[1] > y) {
				dst = append(dst, a[0]+(y-a[1])*(b[0]-a[0])/(b[1]-a[1]))
			}
		}
	}
	sort.Float64s(dst)
	return dst
}

// centerSpan returns the columns [first, last) whose centres fall in
// [x0, x1), clamped to w.
func centerSpan(x0, x1 float64, w window) (int, int) {
	first := int(math.Ceil(x0 - 0.5))
	last := int(math.Ceil(x1 - 0.5))
	return max(first, w.c0), min(last, w.c1)
}

// insideRuns walks the even-odd interior of row by pixel centre.
func insideRuns(poly orb.Polygon, row int, w window, xs []float64, fn func(first, last int)) []float64 {
	xs = crossings(xs[:0], poly, float64(row)+0.5)
	for i := 0; i+1 < len(xs); i += 2 {
		first, last := centerSpan(xs[i], xs[i+1], w)
		if first < last {
			fn(first, last)
		}
	}
	return xs
}
