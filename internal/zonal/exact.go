package zonal

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func init() {
	Register(Exact, func() Strategy { return exact{} })
}

// minCoverage drops slivers produced by rounding along shared edges.
const minCoverage = 1e-12

// exact weights each pixel by the fraction of its area inside the polygon.
// Cells crossed by an edge are clipped; the rest are classified by centre.
type exact struct{}

func (exact) Name() string { return Exact }
func (exact) Exact() bool  { return true }

func (exact) Cover(width, height int, poly orb.Polygon, fn func(col, row int, w float64)) {
	win, ok := clipWindow(poly, width, height)
	if !ok {
		return
	}
	boundary := boundaryCells(poly, win)
	strips := make([]strip, len(poly))
	var xs []float64
	for row := win.r0; row < win.r1; row++ {
		edge := boundary[row-win.r0]

		j := 0
		xs = insideRuns(poly, row, win, xs, func(first, last int) {
			for col := first; col < last; col++ {
				for j < len(edge) && edge[j] < col {
					j++
				}
				if j < len(edge) && edge[j] == col {
					continue
				}
				fn(col, row, 1)
			}
		})

		if len(edge) == 0 {
			continue
		}
		y0, y1 := float64(row), float64(row+1)
		for i, r := range poly {
			pts := clip(clip(r, 1, y0, true), 1, y1, false)
			strips[i] = strip{pts: pts, bound: orb.MultiPoint(pts).Bound()}
		}
		for _, col := range edge {
			w := cellCoverage(strips, float64(col), y0)
			if w > minCoverage {
				fn(col, row, math.Min(w, 1))
			}
		}
	}
}

// strip is one ring clipped to a pixel row.
type strip struct {
	pts   []orb.Point
	bound orb.Bound
}

// cellCoverage is the area of the unit cell at (x0, y0) inside the first
// ring minus the area inside the others.
func cellCoverage(strips []strip, x0, y0 float64) float64 {
	cell := orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x0 + 1, y0 + 1}}
	var total float64
	for i, s := range strips {
		if len(s.pts) < 3 || !s.bound.Intersects(cell) {
			continue
		}
		a := ringArea(clip(clip(s.pts, 0, x0, true), 0, x0+1, false))
		if i == 0 {
			total += a
		} else {
			total -= a
		}
	}
	return total
}

func ringArea(pts []orb.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	r := make(orb.Ring, len(pts), len(pts)+1)
	copy(r, pts)
	r = append(r, r[0])
	return math.Abs(planar.Area(r))
}

// clip keeps the part of a ring on one side of the axis-aligned line
// p[axis] == v (Sutherland-Hodgman).
func clip(in []orb.Point, axis int, v float64, keepAbove bool) []orb.Point {
	if len(in) == 0 {
		return nil
	}
	inside := func(p orb.Point) bool {
		if keepAbove {
			return p[axis] >= v
		}
		return p[axis] <= v
	}
	other := 1 - axis
	out := make([]orb.Point, 0, len(in)+4)
	prev := in[len(in)-1]
	prevIn := inside(prev)
	for _, cur := range in {
		curIn := inside(cur)
		if curIn != prevIn {
			t := (v - prev[axis]) / (cur[axis] - prev[axis])
			var p orb.Point
			p[axis] = v
			p[other] = prev[other] + t*(cur[other]-prev[other])
			out = append(out, p)
		}
		if curIn {
			out = append(out, cur)
		}
		prev, prevIn = cur, curIn
	}
	return out
}

// boundaryCells lists, per row of w, the sorted columns whose cell is
// touched by a polygon edge.
func boundaryCells(poly orb.Polygon, w window) [][]int {
	rows := make([][]int, w.r1-w.r0)
	for _, r := range poly {
		n := len(r)
		for i := 0; i < n; i++ {
			a, b := r[i], r[(i+1)%n]
			if a == b {
				continue
			}
			ylo, yhi := math.Min(a[1], b[1]), math.Max(a[1], b[1])
			rlo := max(int(math.Floor(ylo)), w.r0)
			rhi := min(int(math.Floor(yhi)), w.r1-1)
			for row := rlo; row <= rhi; row++ {
				xa, xb := a[0], b[0]
				if a[1] != b[1] {
					ya := math.Max(ylo, float64(row))
					yb := math.Min(yhi, float64(row+1))
					xa = a[0] + (ya-a[1])*(b[0]-a[0])/(b[1]-a[1])
					xb = a[0] + (yb-a[1])*(b[0]-a[0])/(b[1]-a[1])
				}
				if xa > xb {
					xa, xb = xb, xa
				}
				clo := max(int(math.Floor(xa)), w.c0)
				chi := min(int(math.Floor(xb)), w.c1-1)
				for col := clo; col <= chi; col++ {
					rows[row-w.r0] = append(rows[row-w.r0], col)
				}
			}
		}
	}
	for i, cols := range rows {
		slices.Sort(cols)
		rows[i] = slices.Compact(cols)
	}
	return rows
}
