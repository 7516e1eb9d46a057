// Package geotiff decodes single-image GeoTIFF rasters into float64 bands.
//
// Only what zonal statistics need is supported: classic (non-Big) TIFF in
// either byte order, strips or tiles, chunky or planar layout, integer and
// float samples, and the common compression schemes.
package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotTIFF     = errors.New("geotiff: not a TIFF file")
	ErrBigTIFF     = errors.New("geotiff: BigTIFF is not supported")
	ErrUnsupported = errors.New("geotiff: unsupported feature")
	ErrTooLarge    = errors.New("geotiff: image too large")
	ErrCorrupt     = errors.New("geotiff: corrupt file")
)

// DefaultMaxPixels bounds Width*Height*SamplesPerPixel when no limit is
// given. A decoded sample takes 8 bytes.
const DefaultMaxPixels = 1 << 28

type limits struct {
	maxPixels uint64
	size      int64
}

type Option func(*limits)

// WithMaxPixels caps Width*Height*SamplesPerPixel. n <= 0 keeps the default.
func WithMaxPixels(n int64) Option {
	return func(l *limits) {
		if n > 0 {
			l.maxPixels = uint64(n)
		}
	}
}

// WithSize is the length of the underlying file. Chunks must lie inside it.
// Readers with a Size method, like *bytes.Reader, do not need it.
func WithSize(n int64) Option {
	return func(l *limits) { l.size = n }
}

// Geo is the georeferencing read from the GeoTIFF tags.
type Geo struct {
	// Upper-left corner of the upper-left pixel, in the raster CRS.
	OriginX, OriginY float64
	// Pixel size; both positive for north-up rasters.
	ResX, ResY float64

	Referenced   bool
	ModelType    int
	EPSG         int
	PixelIsPoint bool
}

// Image is an opened TIFF image. Band data is read lazily.
type Image struct {
	Width           int
	Height          int
	SamplesPerPixel int
	BitsPerSample   int
	SampleFormat    int
	Compression     int
	Predictor       int
	Planar          bool
	Tiled           bool
	TileWidth       int
	TileHeight      int
	RowsPerStrip    int

	Geo    Geo
	NoData *float64

	r       io.ReaderAt
	order   binary.ByteOrder
	offsets []uint64
	counts  []uint64
}

type entry struct {
	typ   uint16
	count uint32
	raw   []byte
}

// Decode parses the header and first IFD of a TIFF read from r.
func Decode(r io.ReaderAt, opts ...Option) (*Image, error) {
	lim := limits{maxPixels: DefaultMaxPixels, size: -1}
	if sz, ok := r.(interface{ Size() int64 }); ok {
		lim.size = sz.Size()
	}
	for _, o := range opts {
		o(&lim)
	}

	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, ErrNotTIFF
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch order.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return nil, ErrBigTIFF
	default:
		return nil, ErrNotTIFF
	}

	entries, err := readIFD(r, order, int64(order.Uint32(hdr[4:8])), lim.size)
	if err != nil {
		return nil, err
	}
	im := &Image{r: r, order: order}
	if err := im.parse(entries, lim); err != nil {
		return nil, err
	}
	return im, nil
}

func readIFD(r io.ReaderAt, order binary.ByteOrder, off, size int64) (map[uint16]entry, error) {
	var nb [2]byte
	if _, err := r.ReadAt(nb[:], off); err != nil {
		return nil, fmt.Errorf("geotiff: read IFD: %w", err)
	}
	n := int(order.Uint16(nb[:]))
	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("geotiff: read IFD entries: %w", err)
	}

	out := make(map[uint16]entry, n)
	for i := 0; i < n; i++ {
		e := buf[12*i : 12*i+12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		if total > 1<<30 || (size >= 0 && total > uint64(size)) {
			return nil, fmt.Errorf("%w: tag %d declares %d bytes", ErrCorrupt, tag, total)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			raw = make([]byte, total)
			if _, err := r.ReadAt(raw, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("geotiff: read tag %d: %w", tag, err)
			}
		}
		out[tag] = entry{typ: typ, count: count, raw: raw}
	}
	return out, nil
}

func (im *Image) uints(e entry) []uint64 {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.raw[i])
		case dtShort:
			out[i] = uint64(im.order.Uint16(e.raw[2*i:]))
		case dtLong:
			out[i] = uint64(im.order.Uint32(e.raw[4*i:]))
		}
	}
	return out
}

func (im *Image) floats(e entry) []float64 {
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(im.order.Uint64(e.raw[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(im.order.Uint32(e.raw[4*i:])))
		case dtShort:
			out[i] = float64(im.order.Uint16(e.raw[2*i:]))
		case dtLong:
			out[i] = float64(im.order.Uint32(e.raw[4*i:]))
		}
	}
	return out
}

func (im *Image) first(entries map[uint16]entry, tag uint16, def int) int {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return def
	}
	return int(im.uints(e)[0])
}

func (im *Image) parse(entries map[uint16]entry, lim limits) error {
	im.Width = im.first(entries, tagImageWidth, 0)
	im.Height = im.first(entries, tagImageLength, 0)
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("geotiff: invalid dimensions %dx%d", im.Width, im.Height)
	}
	im.SamplesPerPixel = im.first(entries, tagSamplesPerPixel, 1)
	if im.SamplesPerPixel <= 0 || im.SamplesPerPixel > maxSamplesPerPixel {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, im.SamplesPerPixel)
	}
	// width and height come from 32-bit tags, so their product fits
	if px := uint64(im.Width) * uint64(im.Height); px > lim.maxPixels/uint64(im.SamplesPerPixel) {
		return fmt.Errorf("%w: %dx%d with %d samples exceeds %d", ErrTooLarge,
			im.Width, im.Height, im.SamplesPerPixel, lim.maxPixels)
	}
	im.BitsPerSample = im.first(entries, tagBitsPerSample, 1)
	if e, ok := entries[tagBitsPerSample]; ok {
		for _, b := range im.uints(e) {
			if int(b) != im.BitsPerSample {
				return fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
			}
		}
	}
	im.SampleFormat = im.first(entries, tagSampleFormat, SampleUint)
	im.Compression = im.first(entries, tagCompression, CompressionNone)
	im.Predictor = im.first(entries, tagPredictor, PredictorNone)
	im.Planar = im.first(entries, tagPlanarConfiguration, 1) == 2

	if err := im.checkSampleType(); err != nil {
		return err
	}
	switch im.Compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, compressionDeflateX, CompressionPackBits:
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupported, im.Compression)
	}
	switch im.Predictor {
	case PredictorNone, PredictorHorizontal:
	case PredictorFloat:
		if im.SampleFormat != SampleFloat {
			return fmt.Errorf("%w: floating point predictor on integer samples", ErrUnsupported)
		}
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, im.Predictor)
	}

	if _, ok := entries[tagTileWidth]; ok {
		im.Tiled = true
		im.TileWidth = im.first(entries, tagTileWidth, 0)
		im.TileHeight = im.first(entries, tagTileLength, 0)
		if im.TileWidth <= 0 || im.TileHeight <= 0 {
			return errors.New("geotiff: invalid tile size")
		}
		if uint64(im.TileWidth)*uint64(im.TileHeight) > lim.maxPixels/uint64(im.SamplesPerPixel) {
			return fmt.Errorf("%w: tile %dx%d", ErrTooLarge, im.TileWidth, im.TileHeight)
		}
		im.offsets = im.uints(entries[tagTileOffsets])
		im.counts = im.uints(entries[tagTileByteCounts])
	} else {
		im.RowsPerStrip = im.first(entries, tagRowsPerStrip, im.Height)
		if im.RowsPerStrip <= 0 || im.RowsPerStrip > im.Height {
			im.RowsPerStrip = im.Height
		}
		im.offsets = im.uints(entries[tagStripOffsets])
		im.counts = im.uints(entries[tagStripByteCounts])
	}
	if want := im.chunkCount(); len(im.offsets) < want || len(im.counts) < want {
		return fmt.Errorf("geotiff: expected %d chunks, found %d offsets and %d byte counts",
			want, len(im.offsets), len(im.counts))
	}
	if err := im.checkChunks(lim.size); err != nil {
		return err
	}

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.TrimRight(string(e.raw), "\x00 ")
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			im.NoData = &v
		}
	}
	return im.parseGeo(entries)
}

// checkChunks rejects chunks that point past the end of the file. Without a
// known size the bound is what a classic TIFF can address.
func (im *Image) checkChunks(size int64) error {
	bound := uint64(math.MaxUint32)
	if size >= 0 {
		bound = uint64(size)
	}
	for i := 0; i < im.chunkCount(); i++ {
		off, n := im.offsets[i], im.counts[i]
		if off > bound || n > bound-off {
			return fmt.Errorf("%w: chunk %d at %d+%d outside %d bytes", ErrCorrupt, i, off, n, bound)
		}
	}
	return nil
}

func (im *Image) checkSampleType() error {
	switch im.SampleFormat {
	case SampleUint, SampleInt:
		switch im.BitsPerSample {
		case 8, 16, 32:
			return nil
		}
	case SampleFloat:
		switch im.BitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, im.SampleFormat, im.BitsPerSample)
}

func (im *Image) parseGeo(entries map[uint16]entry) error {
	g := &im.Geo
	if e, ok := entries[tagGeoKeyDirectory]; ok {
		keys := im.uints(e)
		if len(keys) >= 4 {
			n := int(keys[3])
			for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
				k := keys[4+4*i:]
				if k[1] != 0 {
					continue
				}
				switch k[0] {
				case keyGTModelType:
					g.ModelType = int(k[3])
				case keyGTRasterType:
					g.PixelIsPoint = k[3] == rasterPixelIsPoint
				case keyGeographicType:
					if g.ModelType != ModelTypeProjected && k[3] != userDefined {
						g.EPSG = int(k[3])
					}
				case keyProjectedCSType:
					if k[3] != userDefined {
						g.EPSG = int(k[3])
					}
				}
			}
		}
	}

	if e, ok := entries[tagModelTransformation]; ok {
		m := im.floats(e)
		if len(m) < 16 {
			return errors.New("geotiff: short ModelTransformation")
		}
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("%w: rotated or sheared transform", ErrUnsupported)
		}
		g.OriginX, g.ResX = m[3], m[0]
		g.OriginY, g.ResY = m[7], -m[5]
		g.Referenced = true
	} else if s, ok := entries[tagModelPixelScale]; ok {
		scale := im.floats(s)
		tp, ok := entries[tagModelTiepoint]
		if !ok || len(scale) < 2 {
			return errors.New("geotiff: pixel scale without tiepoint")
		}
		tie := im.floats(tp)
		if len(tie) < 6 {
			return errors.New("geotiff: short tiepoint")
		}
		g.ResX, g.ResY = scale[0], scale[1]
		g.OriginX = tie[3] - tie[0]*g.ResX
		g.OriginY = tie[4] + tie[1]*g.ResY
		g.Referenced = true
	}
	if g.Referenced {
		if g.ResX <= 0 || g.ResY <= 0 {
			return fmt.Errorf("%w: non north-up raster", ErrUnsupported)
		}
		if g.PixelIsPoint {
			g.OriginX -= g.ResX / 2
			g.OriginY += g.ResY / 2
		}
	}
	return nil
}
