package zonal

import "github.com/paulmach/orb"

func init() {
	Register(Centroid, func() Strategy { return centroid{} })
}

// centroid includes a pixel with full weight iff its centre is inside.
type centroid struct{}

func (centroid) Name() string { return Centroid }
func (centroid) Exact() bool  { return false }

func (centroid) Cover(width, height int, poly orb.Polygon, fn func(col, row int, w float64)) {
	win, ok := clipWindow(poly, width, height)
	if !ok {
		return
	}
	var xs []float64
	for row := win.r0; row < win.r1; row++ {
		xs = insideRuns(poly, row, win, xs, func(first, last int) {
			for col := first; col < last; col++ {
				fn(col, row, 1)
			}
		})
	}
}
