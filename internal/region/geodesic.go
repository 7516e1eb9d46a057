package region

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/tidwall/geodesic"
)

// Destination solves the direct geodesic problem on the WGS84 ellipsoid:
// the point reached from lonlat after travelling dist metres on the initial
// bearing (degrees clockwise from north).
//
// The longitude is not wrapped. It stays within 180 degrees of the start,
// so rings around a centre near the antimeridian keep their shape and may
// run past ±180.
func Destination(lonlat orb.Point, bearing, dist float64) orb.Point {
	if dist == 0 {
		return lonlat
	}
	var lat2, lon2, azi2 float64
	geodesic.WGS84.Direct(lonlat[1], lonlat[0], bearing, dist, &lat2, &lon2, &azi2)
	return orb.Point{lonlat[0] + wrapDelta(lon2-lonlat[0]), lat2}
}

// wrapDelta brings a longitude difference into [-180, 180).
func wrapDelta(d float64) float64 {
	return math.Mod(math.Mod(d+180, 360)+360, 360) - 180
}
