package zonal

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
)

// Compute aggregates the named statistics of band over poly, which is in
// the dataset's native CRS. names must already be normalized.
func Compute(s Strategy, ds *raster.Dataset, band int, poly orb.Polygon, names []string) (model.Stats, error) {
	if len(poly) == 0 || !poly.Bound().Intersects(ds.Bound()) {
		return nil, model.ErrRegionOutsideRaster
	}
	b, err := ds.Band(band)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	st := ComputeBand(s, b, ds.Transform, poly, names)
	observability.ObserveStats(s.Name(), time.Since(start).Seconds())
	return st, nil
}

// ComputeBand is Compute on an already decoded band.
func ComputeBand(s Strategy, b *raster.Band, t raster.Transform, poly orb.Polygon, names []string) model.Stats {
	acc := newAccumulator(names)
	s.Cover(b.Width, b.Height, ToPixels(t, poly), func(col, row int, w float64) {
		if v, ok := b.At(col, row); ok {
			acc.add(v, w)
		}
	})
	return acc.result(names)
}
