// Package crs converts coordinates between WGS84 and the raster CRSs the
// service understands: geographic degrees, Web Mercator and UTM zones.
package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// Projection maps WGS84 lon/lat to a native CRS and back.
type Projection interface {
	Code() string
	Geographic() bool
	Forward(lonlat orb.Point) orb.Point
	Inverse(xy orb.Point) orb.Point
}

const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857
)

// WGS84 is the display CRS.
var WGS84 Projection = geographic{code: EPSGWGS84}

// FromEPSG resolves an EPSG code into a Projection.
func FromEPSG(code int) (Projection, error) {
	switch {
	case code == EPSGWGS84:
		return WGS84, nil
	case code == EPSGWebMercator, code == 900913, code == 3785:
		m := wgs84.WebMercator()
		return projected{code: code, fwd: wgs84.LonLat().To(m), inv: m.To(wgs84.LonLat()), maxLat: maxMercLat}, nil
	case code >= 32601 && code <= 32660:
		return utm(code, code-32600, true), nil
	case code >= 32701 && code <= 32760:
		return utm(code, code-32700, false), nil
	// NAD83 differs from WGS84 by about a metre
	case code >= 26901 && code <= 26923:
		return utm(code, code-26900, true), nil
	case isGeographicCode(code):
		return geographic{code: code}, nil
	}
	return nil, fmt.Errorf("unsupported CRS EPSG:%d", code)
}

// geographic EPSG codes whose datum is close enough to WGS84 for
// kilometre-scale regions.
func isGeographicCode(code int) bool {
	switch code {
	case 4269, 4258, 4283, 4617, 4619, 4322, 4167, 4148, 4674:
		return true
	}
	return false
}

type geographic struct{ code int }

func (g geographic) Code() string                  { return fmt.Sprintf("EPSG:%d", g.code) }
func (g geographic) Geographic() bool              { return true }
func (g geographic) Forward(p orb.Point) orb.Point { return p }
func (g geographic) Inverse(p orb.Point) orb.Point { return p }

const maxMercLat = 85.05112878

// projected wraps a wroge/wgs84 transformation pair. Latitudes beyond
// maxLat are clamped before the forward transform when maxLat is set.
type projected struct {
	code     int
	fwd, inv func(a, b, c float64) (float64, float64, float64)
	maxLat   float64
}

func utm(code, zone int, north bool) projected {
	u := wgs84.UTM(float64(zone), north)
	return projected{code: code, fwd: wgs84.LonLat().To(u), inv: u.To(wgs84.LonLat())}
}

func (p projected) Code() string     { return fmt.Sprintf("EPSG:%d", p.code) }
func (p projected) Geographic() bool { return false }

func (p projected) Forward(ll orb.Point) orb.Point {
	lat := ll[1]
	if p.maxLat > 0 {
		lat = math.Max(-p.maxLat, math.Min(p.maxLat, lat))
	}
	x, y, _ := p.fwd(ll[0], lat, 0)
	return orb.Point{x, y}
}

func (p projected) Inverse(xy orb.Point) orb.Point {
	lon, lat, _ := p.inv(xy[0], xy[1], 0)
	return orb.Point{lon, lat}
}

// ForwardRing projects every vertex of r into the native CRS.
func ForwardRing(p Projection, r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, v := range r {
		out[i] = p.Forward(v)
	}
	return out
}

// InverseRing projects every vertex of r back to lon/lat.
func InverseRing(p Projection, r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, v := range r {
		out[i] = p.Inverse(v)
	}
	return out
}

func ForwardPolygon(p Projection, poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		out[i] = ForwardRing(p, r)
	}
	return out
}

func InversePolygon(p Projection, poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		out[i] = InverseRing(p, r)
	}
	return out
}
