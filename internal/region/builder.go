// Package region turns kilometre-based queries around WGS84 points into
// polygons in a raster's native CRS.
package region

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster/crs"
)

const (
	DefaultCirclePoints = 360
	minCirclePoints     = 8
	// vertices per rectangle edge
	rectEdgePoints = 32
)

// Builder constructs regions. It is stateless and safe for concurrent use.
type Builder struct {
	points int
}

func NewBuilder(circlePoints int) *Builder {
	if circlePoints < minCirclePoints {
		circlePoints = DefaultCirclePoints
	}
	return &Builder{points: circlePoints}
}

// Build expands q into its ordered regions in the CRS of proj.
func (b *Builder) Build(proj crs.Projection, q model.QueryRequest) ([]model.Region, error) {
	switch q.Kind {
	case model.QueryCircle:
		return b.Circles(proj, q.Center, q.RadiiKM)
	case model.QueryBand:
		return b.Band(proj, q.Center, q.EdgesKM)
	case model.QueryRect:
		r, err := b.Rect(proj, q.Center, q.HalfWKM, q.HalfHKM)
		if err != nil {
			return nil, err
		}
		return []model.Region{r}, nil
	case model.QueryCompare:
		var radius float64
		if len(q.RadiiKM) > 0 {
			radius = q.RadiiKM[0]
		}
		return b.Compare(proj, q.Points, radius)
	}
	return nil, model.Invalidf("unknown query kind %q", q.Kind)
}

func validPoint(p model.Point) error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return model.Invalidf("latitude %v outside [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return model.Invalidf("longitude %v outside [-180, 180]", p.Lon)
	}
	return nil
}

func positive(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return model.Invalidf("%s must be positive, got %v", name, v)
	}
	return nil
}

// fmtKM renders a distance the shortest way: 50, 2.5.
func fmtKM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ring returns the geodesic circle around c as a closed counter-clockwise
// lon/lat ring. Longitudes are continuous around c and may pass ±180.
func (b *Builder) ring(c orb.Point, radiusM float64) orb.Ring {
	r := make(orb.Ring, 0, b.points+1)
	for i := b.points - 1; i >= 0; i-- {
		bearing := 360 * float64(i) / float64(b.points)
		r = append(r, Destination(c, bearing, radiusM))
	}
	return append(r, r[0])
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

// Circle builds one circle of radiusKM around center.
func (b *Builder) Circle(proj crs.Projection, center model.Point, radiusKM float64) (model.Region, error) {
	if err := validPoint(center); err != nil {
		return model.Region{}, err
	}
	if err := positive("radius_km", radiusKM); err != nil {
		return model.Region{}, err
	}
	c := orb.Point{center.Lon, center.Lat}
	poly := orb.Polygon{b.ring(c, radiusKM*1000)}
	return model.Region{
		Label:       "r=" + fmtKM(radiusKM) + " km",
		Geometry:    crs.ForwardPolygon(proj, poly),
		Center:      proj.Forward(c),
		Fingerprint: fmt.Sprintf("circle/%d/%v,%v/%v", b.points, center.Lat, center.Lon, radiusKM),
	}, nil
}

// Circles builds one circle per radius, ordered by ascending radius.
func (b *Builder) Circles(proj crs.Projection, center model.Point, radiiKM []float64) ([]model.Region, error) {
	if len(radiiKM) == 0 {
		return nil, model.Invalidf("at least one radius is required")
	}
	radii := append([]float64(nil), radiiKM...)
	sort.Float64s(radii)
	out := make([]model.Region, 0, len(radii))
	for _, r := range radii {
		reg, err := b.Circle(proj, center, r)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, nil
}

// Band builds one ring per consecutive pair of edges. A leading zero edge
// yields a solid disk.
func (b *Builder) Band(proj crs.Projection, center model.Point, edgesKM []float64) ([]model.Region, error) {
	if err := validPoint(center); err != nil {
		return nil, err
	}
	if len(edgesKM) < 2 {
		return nil, model.Invalidf("at least two edges are required, got %d", len(edgesKM))
	}
	for i, e := range edgesKM {
		if math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
			return nil, model.Invalidf("edge %v must be a non-negative number", e)
		}
		if i > 0 && e <= edgesKM[i-1] {
			return nil, model.Invalidf("edges must be strictly increasing: %v after %v", e, edgesKM[i-1])
		}
	}

	c := orb.Point{center.Lon, center.Lat}
	out := make([]model.Region, 0, len(edgesKM)-1)
	outer := b.ring(c, edgesKM[0]*1000)
	for i := 0; i+1 < len(edgesKM); i++ {
		e0, e1 := edgesKM[i], edgesKM[i+1]
		inner := outer
		outer = b.ring(c, e1*1000)
		poly := orb.Polygon{outer}
		if e0 > 0 {
			poly = append(poly, reversed(inner))
		}
		out = append(out, model.Region{
			Label:       fmtKM(e0) + "–" + fmtKM(e1) + " km",
			Geometry:    crs.ForwardPolygon(proj, poly),
			Center:      proj.Forward(c),
			Fingerprint: fmt.Sprintf("band/%d/%v,%v/%v-%v", b.points, center.Lat, center.Lon, e0, e1),
		})
	}
	return out, nil
}

// Rect builds the rectangle spanning the geodesic offsets of center, boxed
// in the raster CRS.
func (b *Builder) Rect(proj crs.Projection, center model.Point, halfWKM, halfHKM float64) (model.Region, error) {
	if err := validPoint(center); err != nil {
		return model.Region{}, err
	}
	if err := positive("half_w_km", halfWKM); err != nil {
		return model.Region{}, err
	}
	if err := positive("half_h_km", halfHKM); err != nil {
		return model.Region{}, err
	}
	c := orb.Point{center.Lon, center.Lat}
	n := proj.Forward(Destination(c, 0, halfHKM*1000))
	s := proj.Forward(Destination(c, 180, halfHKM*1000))
	e := proj.Forward(Destination(c, 90, halfWKM*1000))
	w := proj.Forward(Destination(c, 270, halfWKM*1000))

	minX, maxX := w[0], e[0]
	minY, maxY := s[1], n[1]
	ring := make(orb.Ring, 0, 4*rectEdgePoints+1)
	edge := func(from, to orb.Point) {
		for i := 0; i < rectEdgePoints; i++ {
			t := float64(i) / rectEdgePoints
			ring = append(ring, orb.Point{from[0] + t*(to[0]-from[0]), from[1] + t*(to[1]-from[1])})
		}
	}
	edge(orb.Point{minX, minY}, orb.Point{maxX, minY})
	edge(orb.Point{maxX, minY}, orb.Point{maxX, maxY})
	edge(orb.Point{maxX, maxY}, orb.Point{minX, maxY})
	edge(orb.Point{minX, maxY}, orb.Point{minX, minY})
	ring = append(ring, ring[0])

	return model.Region{
		Label:       fmtKM(2*halfWKM) + "×" + fmtKM(2*halfHKM) + " km",
		Geometry:    orb.Polygon{ring},
		Center:      proj.Forward(c),
		Fingerprint: fmt.Sprintf("rect/%v,%v/%vx%v", center.Lat, center.Lon, halfWKM, halfHKM),
	}, nil
}

// Compare builds one circle per point, in input order.
func (b *Builder) Compare(proj crs.Projection, points []model.Point, radiusKM float64) ([]model.Region, error) {
	if len(points) == 0 {
		return nil, model.Invalidf("at least one point is required")
	}
	out := make([]model.Region, 0, len(points))
	for i, p := range points {
		reg, err := b.Circle(proj, p, radiusKM)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i+1, err)
		}
		pt := p
		if pt.Name == "" {
			pt.Name = "P" + strconv.Itoa(i+1)
		}
		reg.Label = pt.Name
		reg.Point = &pt
		out = append(out, reg)
	}
	return out, nil
}
