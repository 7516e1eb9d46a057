// Package raster opens GeoTIFF datasets and serves decoded bands.
package raster

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster/crs"
	"github.com/mohammed-shakir/zonalstats/internal/raster/geotiff"
)

// ErrNotGeoreferenced is returned for TIFFs without a geotransform.
var ErrNotGeoreferenced = errors.New("raster has no georeferencing")

// Transform maps pixel (col, row) to the raster CRS. Rows grow southwards.
type Transform struct {
	OriginX, OriginY float64
	ResX, ResY       float64
}

// PixelCorner returns the world coordinate of pixel corner (col, row).
func (t Transform) PixelCorner(col, row float64) orb.Point {
	return orb.Point{t.OriginX + col*t.ResX, t.OriginY - row*t.ResY}
}

// ToPixel returns fractional pixel coordinates of a world point.
func (t Transform) ToPixel(p orb.Point) (col, row float64) {
	return (p[0] - t.OriginX) / t.ResX, (t.OriginY - p[1]) / t.ResY
}

// Band is one decoded raster band.
type Band struct {
	Width, Height int
	Values        []float64
	NoData        *float64
}

// At returns the value at (col, row) and false when it is nodata or not
// finite.
func (b *Band) At(col, row int) (float64, bool) {
	v := b.Values[row*b.Width+col]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if b.NoData != nil && v == *b.NoData {
		return 0, false
	}
	return v, true
}

// Dataset is an opened GeoTIFF file.
type Dataset struct {
	Path      string
	Width     int
	Height    int
	Bands     int
	NoData    *float64
	Transform Transform
	Proj      crs.Projection
	// AssumedCRS is set when the file carried no CRS keys.
	AssumedCRS bool

	key   string
	f     *os.File
	im    *geotiff.Image
	cache *BandCache

	mu     sync.Mutex
	closed bool
}

// Open opens the GeoTIFF at path. Decoded bands are shared through cache,
// which may be nil. maxPixels caps Width*Height*Bands; <= 0 uses
// geotiff.DefaultMaxPixels.
func Open(path string, cache *BandCache, maxPixels int64) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat raster: %w", err)
	}
	im, err := geotiff.Decode(f, geotiff.WithSize(st.Size()), geotiff.WithMaxPixels(maxPixels))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}
	if !im.Geo.Referenced {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidInput, ErrNotGeoreferenced)
	}

	ds := &Dataset{
		Path:   path,
		Width:  im.Width,
		Height: im.Height,
		Bands:  im.SamplesPerPixel,
		NoData: im.NoData,
		Transform: Transform{
			OriginX: im.Geo.OriginX, OriginY: im.Geo.OriginY,
			ResX: im.Geo.ResX, ResY: im.Geo.ResY,
		},
		key:   path,
		f:     f,
		im:    im,
		cache: cache,
	}

	code := im.Geo.EPSG
	if code == 0 {
		code = crs.EPSGWGS84
		ds.AssumedCRS = true
	}
	proj, err := crs.FromEPSG(code)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}
	ds.Proj = proj
	return ds, nil
}

// Bound is the native-CRS extent of the raster.
func (d *Dataset) Bound() orb.Bound {
	ul := d.Transform.PixelCorner(0, 0)
	lr := d.Transform.PixelCorner(float64(d.Width), float64(d.Height))
	return orb.Bound{Min: orb.Point{ul[0], lr[1]}, Max: orb.Point{lr[0], ul[1]}}
}

// Corners returns the raster corners in WGS84, counter-clockwise from the
// lower left.
func (d *Dataset) Corners() [4]orb.Point {
	b := d.Bound()
	pts := [4]orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
	}
	for i := range pts {
		pts[i] = d.Proj.Inverse(pts[i])
	}
	return pts
}

// Info describes the dataset for API responses. Identity fields are left to
// the caller.
func (d *Dataset) Info() model.RasterInfo {
	corners := d.Corners()
	b := model.Bounds{
		West: math.Inf(1), South: math.Inf(1),
		East: math.Inf(-1), North: math.Inf(-1),
	}
	ring := make([][2]float64, 0, 5)
	for _, c := range corners {
		b.West = math.Min(b.West, c[0])
		b.South = math.Min(b.South, c[1])
		b.East = math.Max(b.East, c[0])
		b.North = math.Max(b.North, c[1])
		ring = append(ring, [2]float64{c[0], c[1]})
	}
	ring = append(ring, ring[0])

	return model.RasterInfo{
		CRS:           d.Proj.Code(),
		Width:         d.Width,
		Height:        d.Height,
		Res:           [2]float64{d.Transform.ResX, d.Transform.ResY},
		Bands:         d.Bands,
		NoData:        d.NoData,
		Bounds:        b,
		BoundsPolygon: ring,
	}
}

// Band returns the decoded band i (1-based).
func (d *Dataset) Band(i int) (*Band, error) {
	if i < 1 || i > d.Bands {
		return nil, model.Invalidf("band %d out of range [1, %d]", i, d.Bands)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("raster: dataset closed")
	}

	if d.cache != nil {
		if b, ok := d.cache.get(d.key, i); ok {
			return b, nil
		}
	}
	vals, err := d.im.ReadBand(i)
	if err != nil {
		return nil, fmt.Errorf("read band %d: %w", i, err)
	}
	b := &Band{Width: d.Width, Height: d.Height, Values: vals, NoData: d.NoData}
	if d.cache != nil {
		d.cache.add(d.key, i, b)
	}
	return b, nil
}

// Close releases the file and evicts cached bands. It does not remove the
// file from disk.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.cache != nil {
		d.cache.evict(d.key)
	}
	return d.f.Close()
}
