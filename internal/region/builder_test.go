package region

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster/crs"
)

var stockholm = model.Point{Lat: 59.3293, Lon: 18.0686}

func TestDestination_KnownDistances(t *testing.T) {
	p := Destination(orb.Point{0, 0}, 0, 110574.3886)
	if math.Abs(p[1]-1) > 1e-6 || math.Abs(p[0]) > 1e-9 {
		t.Fatalf("one degree of latitude: got %v", p)
	}
	q := Destination(orb.Point{0, 0}, 90, 111319.4908)
	if math.Abs(q[0]-1) > 1e-6 || math.Abs(q[1]) > 1e-9 {
		t.Fatalf("one degree of longitude: got %v", q)
	}
	// The spherical haversine distance agrees with the ellipsoidal one to
	// within half a percent.
	d := Destination(orb.Point{stockholm.Lon, stockholm.Lat}, 37, 25_000)
	if got := geo.DistanceHaversine(orb.Point{stockholm.Lon, stockholm.Lat}, d); math.Abs(got-25_000) > 125 {
		t.Fatalf("haversine distance %v", got)
	}
}

func TestDestination_KeepsLongitudeUnwrapped(t *testing.T) {
	e := Destination(orb.Point{179.99, 0}, 90, 5000)
	if e[0] <= 180 || e[0] > 180.1 {
		t.Fatalf("east of the dateline: got lon %v", e[0])
	}
	w := Destination(orb.Point{-179.99, 0}, 270, 5000)
	if w[0] >= -180 || w[0] < -180.1 {
		t.Fatalf("west of the dateline: got lon %v", w[0])
	}
}

func TestCircleAndRect_AcrossAntimeridian(t *testing.T) {
	b := NewBuilder(0)
	at := model.Point{Lat: 0, Lon: 179.99}
	c, err := b.Circle(crs.WGS84, at, 5)
	if err != nil {
		t.Fatal(err)
	}
	cb := c.Geometry.Bound()
	if cb.Max[0] <= 180 || cb.Max[0]-cb.Min[0] > 0.1 {
		t.Fatalf("circle bound %v", cb)
	}
	r, err := b.Rect(crs.WGS84, at, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	rb := r.Geometry.Bound()
	if rb.Max[0] <= 180 || rb.Max[0]-rb.Min[0] > 0.1 {
		t.Fatalf("rect bound %v", rb)
	}
}

func TestCircle_LabelAndShape(t *testing.T) {
	b := NewBuilder(0)
	r, err := b.Circle(crs.WGS84, stockholm, 2.5)
	if err != nil {
		t.Fatalf("Circle: %v", err)
	}
	if r.Label != "r=2.5 km" {
		t.Fatalf("label=%q", r.Label)
	}
	ring := r.Geometry[0]
	if len(r.Geometry) != 1 || len(ring) != DefaultCirclePoints+1 || ring[0] != ring[len(ring)-1] {
		t.Fatalf("unexpected ring: %d rings, %d vertices", len(r.Geometry), len(ring))
	}
	if ringArea := planar.Area(ring); ringArea <= 0 {
		t.Fatalf("ring area %v", ringArea)
	}
	want := math.Pi * 2500 * 2500
	if got := geo.Area(r.Geometry); math.Abs(got-want)/want > 0.01 {
		t.Fatalf("area=%v want ~%v", got, want)
	}
}

func TestCircles_SortedAscending(t *testing.T) {
	regs, err := NewBuilder(64).Circles(crs.WGS84, stockholm, []float64{10, 1, 5})
	if err != nil {
		t.Fatalf("Circles: %v", err)
	}
	want := []string{"r=1 km", "r=5 km", "r=10 km"}
	for i, r := range regs {
		if r.Label != want[i] {
			t.Fatalf("label[%d]=%q want %q", i, r.Label, want[i])
		}
	}
}

func TestBand_LabelsOrderAndHoles(t *testing.T) {
	regs, err := NewBuilder(90).Band(crs.WGS84, stockholm, []float64{0, 50, 100})
	if err != nil {
		t.Fatalf("Band: %v", err)
	}
	if len(regs) != 2 || regs[0].Label != "0–50 km" || regs[1].Label != "50–100 km" {
		t.Fatalf("unexpected labels %v", []string{regs[0].Label, regs[1].Label})
	}
	if len(regs[0].Geometry) != 1 {
		t.Fatalf("first band from zero edge should be a disk, got %d rings", len(regs[0].Geometry))
	}
	if len(regs[1].Geometry) != 2 {
		t.Fatalf("second band should have one hole, got %d rings", len(regs[1].Geometry))
	}
}

func TestBand_RingsTileTheDisk(t *testing.T) {
	b := NewBuilder(120)
	edges := []float64{0, 3, 7.5, 20, 42}
	regs, err := b.Band(crs.WGS84, stockholm, edges)
	if err != nil {
		t.Fatalf("Band: %v", err)
	}
	disk, err := b.Circle(crs.WGS84, stockholm, 42)
	if err != nil {
		t.Fatalf("Circle: %v", err)
	}
	var sum float64
	for _, r := range regs {
		sum += planar.Area(r.Geometry)
	}
	want := planar.Area(disk.Geometry)
	if math.Abs(sum-want)/want > 1e-9 {
		t.Fatalf("sum of rings %v != disk %v", sum, want)
	}
}

func TestRect_AxisAlignedInProjectedSpace(t *testing.T) {
	utm, _ := crs.FromEPSG(32633)
	r, err := NewBuilder(0).Rect(utm, stockholm, 5, 2)
	if err != nil {
		t.Fatalf("Rect: %v", err)
	}
	if r.Label != "10×4 km" {
		t.Fatalf("label=%q", r.Label)
	}
	bound := r.Geometry.Bound()
	w, h := bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1]
	// UTM scale factor is close to one this near the central meridian.
	if math.Abs(w-10_000)/10_000 > 0.01 || math.Abs(h-4_000)/4_000 > 0.01 {
		t.Fatalf("extent %vx%v", w, h)
	}
	for _, p := range r.Geometry[0] {
		onX := p[0] == bound.Min[0] || p[0] == bound.Max[0]
		onY := p[1] == bound.Min[1] || p[1] == bound.Max[1]
		if !onX && !onY {
			t.Fatalf("vertex %v is not on the bounding box", p)
		}
	}
}

func TestRect_GeographicMatchesGeodesicOffsets(t *testing.T) {
	r, err := NewBuilder(0).Rect(crs.WGS84, stockholm, 1, 1)
	if err != nil {
		t.Fatalf("Rect: %v", err)
	}
	c := orb.Point{stockholm.Lon, stockholm.Lat}
	b := r.Geometry.Bound()
	if b.Max[1] != Destination(c, 0, 1000)[1] || b.Min[0] != Destination(c, 270, 1000)[0] {
		t.Fatalf("bound %v does not match geodesic offsets", b)
	}
}

func TestCompare_PreservesOrderAndAttachesPoints(t *testing.T) {
	pts := []model.Point{
		{Name: "Uppsala", Lat: 59.8586, Lon: 17.6389},
		{Lat: 57.7089, Lon: 11.9746},
		{Name: "Malmo", Lat: 55.605, Lon: 13.0038},
	}
	regs, err := NewBuilder(32).Compare(crs.WGS84, pts, 10)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	want := []string{"Uppsala", "P2", "Malmo"}
	for i, r := range regs {
		if r.Label != want[i] {
			t.Fatalf("label[%d]=%q want %q", i, r.Label, want[i])
		}
		if r.Point == nil || r.Point.Lat != pts[i].Lat || r.Point.Lon != pts[i].Lon {
			t.Fatalf("point[%d]=%v", i, r.Point)
		}
	}
	if regs[0].Fingerprint == regs[1].Fingerprint {
		t.Fatal("distinct points share a fingerprint")
	}
}

func TestBuild_Validation(t *testing.T) {
	b := NewBuilder(0)
	cases := map[string]model.QueryRequest{
		"no radii":         {Kind: model.QueryCircle, Center: stockholm},
		"negative radius":  {Kind: model.QueryCircle, Center: stockholm, RadiiKM: []float64{-1}},
		"nan radius":       {Kind: model.QueryCircle, Center: stockholm, RadiiKM: []float64{math.NaN()}},
		"bad latitude":     {Kind: model.QueryCircle, Center: model.Point{Lat: 91}, RadiiKM: []float64{1}},
		"bad longitude":    {Kind: model.QueryCircle, Center: model.Point{Lon: -181}, RadiiKM: []float64{1}},
		"one edge":         {Kind: model.QueryBand, Center: stockholm, EdgesKM: []float64{10}},
		"decreasing edges": {Kind: model.QueryBand, Center: stockholm, EdgesKM: []float64{0, 50, 20}},
		"repeated edge":    {Kind: model.QueryBand, Center: stockholm, EdgesKM: []float64{0, 50, 50}},
		"negative edge":    {Kind: model.QueryBand, Center: stockholm, EdgesKM: []float64{-5, 5}},
		"zero half width":  {Kind: model.QueryRect, Center: stockholm, HalfHKM: 1},
		"no points":        {Kind: model.QueryCompare, RadiiKM: []float64{1}},
		"compare radius":   {Kind: model.QueryCompare, Points: []model.Point{stockholm}},
		"unknown kind":     {Kind: "hexagon"},
	}
	for name, q := range cases {
		if _, err := b.Build(crs.WGS84, q); !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("%s: got %v want ErrInvalidInput", name, err)
		}
	}
}

func TestBuild_ProjectsIntoNativeCRS(t *testing.T) {
	merc, _ := crs.FromEPSG(3857)
	regs, err := NewBuilder(0).Build(merc, model.QueryRequest{
		Kind: model.QueryCircle, Center: stockholm, RadiiKM: []float64{1},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := regs[0].Center
	want := merc.Forward(orb.Point{stockholm.Lon, stockholm.Lat})
	if c != want {
		t.Fatalf("center=%v want %v", c, want)
	}
	// Mercator stretches by 1/cos(lat), about 1.96 at this latitude.
	b := regs[0].Geometry.Bound()
	if w := b.Max[0] - b.Min[0]; w < 3500 || w > 4500 {
		t.Fatalf("projected diameter %v", w)
	}
}
