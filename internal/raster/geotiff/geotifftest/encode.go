// Package geotifftest writes small GeoTIFF files for tests.
package geotifftest

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	Uint8   = "uint8"
	Int16   = "int16"
	Uint16  = "uint16"
	Int32   = "int32"
	Float32 = "float32"
	Float64 = "float64"
)

// Options describe the raster to write. Bands hold Width*Height values in
// row-major order.
type Options struct {
	Width, Height int
	Bands         [][]float64
	Type          string

	OriginX, OriginY float64
	ResX, ResY       float64
	// EPSG 0 writes no GeoKeyDirectory.
	EPSG int
	// Projected selects ProjectedCSType instead of GeographicType.
	Projected bool
	// NoGeoref omits the pixel scale and tiepoint tags.
	NoGeoref bool
	NoData   *float64

	Deflate bool
	// LZW uses compress/lzw, which matches TIFF LZW only until the code
	// width first grows; keep LZW chunks under ~250 bytes.
	LZW       bool
	Predictor int
	Planar    bool
	// TileSize > 0 writes tiles instead of strips.
	TileSize     int
	RowsPerStrip int
	BigEndian    bool
}

// Fill returns a Width*Height band produced by f(col, row).
func Fill(w, h int, f func(x, y int) float64) []float64 {
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = f(x, y)
		}
	}
	return out
}

// WriteFile encodes o into dir/name and returns the path.
func WriteFile(dir, name string, o Options) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, o); err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	return p, os.WriteFile(p, buf.Bytes(), 0o600)
}

// Bytes encodes o into memory.
func Bytes(o Options) ([]byte, error) {
	var buf bytes.Buffer
	err := Encode(&buf, o)
	return buf.Bytes(), err
}

type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func sampleInfo(t string) (bits, format int, err error) {
	switch t {
	case Uint8:
		return 8, 1, nil
	case Uint16:
		return 16, 1, nil
	case Int16:
		return 16, 2, nil
	case Int32:
		return 32, 2, nil
	case Float32, "":
		return 32, 3, nil
	case Float64:
		return 64, 3, nil
	}
	return 0, 0, fmt.Errorf("geotifftest: unknown type %q", t)
}

// Encode writes o as a classic TIFF with GeoTIFF tags.
func Encode(w io.Writer, o Options) error {
	if o.Width <= 0 || o.Height <= 0 || len(o.Bands) == 0 {
		return errors.New("geotifftest: empty image")
	}
	for i, b := range o.Bands {
		if len(b) != o.Width*o.Height {
			return fmt.Errorf("geotifftest: band %d has %d values", i+1, len(b))
		}
	}
	bits, format, err := sampleInfo(o.Type)
	if err != nil {
		return err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if o.BigEndian {
		order = binary.BigEndian
	}
	bps := bits / 8
	nb := len(o.Bands)

	type chunk struct{ x0, y0, w, h, plane int }
	var chunks []chunk
	planes := 1
	if o.Planar {
		planes = nb
	}
	for p := 0; p < planes; p++ {
		if o.TileSize > 0 {
			for ty := 0; ty < o.Height; ty += o.TileSize {
				for tx := 0; tx < o.Width; tx += o.TileSize {
					chunks = append(chunks, chunk{tx, ty, o.TileSize, o.TileSize, p})
				}
			}
			continue
		}
		rps := o.RowsPerStrip
		if rps <= 0 {
			rps = o.Height
		}
		for y := 0; y < o.Height; y += rps {
			h := rps
			if y+h > o.Height {
				h = o.Height - y
			}
			chunks = append(chunks, chunk{0, y, o.Width, h, p})
		}
	}

	var body bytes.Buffer
	offsets := make([]uint32, len(chunks))
	counts := make([]uint32, len(chunks))
	for i, c := range chunks {
		spp := nb
		if o.Planar {
			spp = 1
		}
		rowBytes := c.w * spp * bps
		data := make([]byte, rowBytes*c.h)
		for y := 0; y < c.h; y++ {
			for x := 0; x < c.w; x++ {
				for s := 0; s < spp; s++ {
					band := s
					if o.Planar {
						band = c.plane
					}
					v := 0.0
					if c.x0+x < o.Width && c.y0+y < o.Height {
						v = o.Bands[band][(c.y0+y)*o.Width+c.x0+x]
					}
					putSample(data[y*rowBytes+(x*spp+s)*bps:], v, bits, format, order, o.Predictor == 3)
				}
			}
			row := data[y*rowBytes : (y+1)*rowBytes]
			switch o.Predictor {
			case 2:
				applyHorizontal(row, spp, bps, order)
			case 3:
				applyFloat(row, spp, bps)
			}
		}
		if o.Deflate {
			var z bytes.Buffer
			zw := zlib.NewWriter(&z)
			if _, err := zw.Write(data); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			data = z.Bytes()
		} else if o.LZW {
			var z bytes.Buffer
			lw := lzw.NewWriter(&z, lzw.MSB, 8)
			if _, err := lw.Write(data); err != nil {
				return err
			}
			if err := lw.Close(); err != nil {
				return err
			}
			data = z.Bytes()
		}
		offsets[i] = uint32(8 + body.Len())
		counts[i] = uint32(len(data))
		body.Write(data)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	shorts := func(v ...int) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			order.PutUint16(b[2*i:], uint16(x))
		}
		return b
	}
	longs := func(v []uint32) []byte {
		b := make([]byte, 4*len(v))
		for i, x := range v {
			order.PutUint32(b[4*i:], x)
		}
		return b
	}
	doubles := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			order.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}
	repeat := func(v, n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = v
		}
		return out
	}

	compression := 1
	switch {
	case o.Deflate:
		compression = 8
	case o.LZW:
		compression = 5
	}
	planar := 1
	if o.Planar {
		planar = 2
	}
	fields := []field{
		{256, 3, 1, shorts(o.Width)},
		{257, 3, 1, shorts(o.Height)},
		{258, 3, uint32(nb), shorts(repeat(bits, nb)...)},
		{259, 3, 1, shorts(compression)},
		{262, 3, 1, shorts(1)},
		{277, 3, 1, shorts(nb)},
		{284, 3, 1, shorts(planar)},
		{339, 3, uint32(nb), shorts(repeat(format, nb)...)},
	}
	if o.Predictor > 1 {
		fields = append(fields, field{317, 3, 1, shorts(o.Predictor)})
	}
	if o.TileSize > 0 {
		fields = append(fields,
			field{322, 3, 1, shorts(o.TileSize)},
			field{323, 3, 1, shorts(o.TileSize)},
			field{324, 4, uint32(len(offsets)), longs(offsets)},
			field{325, 4, uint32(len(counts)), longs(counts)},
		)
	} else {
		rps := o.RowsPerStrip
		if rps <= 0 {
			rps = o.Height
		}
		fields = append(fields,
			field{273, 4, uint32(len(offsets)), longs(offsets)},
			field{278, 3, 1, shorts(rps)},
			field{279, 4, uint32(len(counts)), longs(counts)},
		)
	}
	if !o.NoGeoref {
		fields = append(fields,
			field{33550, 12, 3, doubles(o.ResX, o.ResY, 0)},
			field{33922, 12, 6, doubles(0, 0, 0, o.OriginX, o.OriginY, 0)},
		)
	}
	if o.EPSG != 0 {
		model, key := 2, 2048
		if o.Projected {
			model, key = 1, 3072
		}
		fields = append(fields, field{34735, 3, 16, shorts(
			1, 1, 0, 3,
			1024, 0, 1, model,
			1025, 0, 1, 1,
			key, 0, 1, o.EPSG,
		)})
	}
	if o.NoData != nil {
		s := []byte(strconv.FormatFloat(*o.NoData, 'g', -1, 64) + "\x00")
		fields = append(fields, field{42113, 2, uint32(len(s)), s})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	ifdOff := 8 + body.Len()
	extraOff := ifdOff + 2 + 12*len(fields) + 4
	var ifd, extra bytes.Buffer
	var nbuf [12]byte
	order.PutUint16(nbuf[:2], uint16(len(fields)))
	ifd.Write(nbuf[:2])
	for _, f := range fields {
		order.PutUint16(nbuf[0:2], f.tag)
		order.PutUint16(nbuf[2:4], f.typ)
		order.PutUint32(nbuf[4:8], f.count)
		for k := 8; k < 12; k++ {
			nbuf[k] = 0
		}
		if len(f.data) <= 4 {
			copy(nbuf[8:], f.data)
		} else {
			order.PutUint32(nbuf[8:12], uint32(extraOff+extra.Len()))
			extra.Write(f.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		ifd.Write(nbuf[:])
	}
	ifd.Write([]byte{0, 0, 0, 0})

	var hdr [8]byte
	if o.BigEndian {
		copy(hdr[:2], "MM")
	} else {
		copy(hdr[:2], "II")
	}
	order.PutUint16(hdr[2:4], 42)
	order.PutUint32(hdr[4:8], uint32(ifdOff))

	for _, b := range [][]byte{hdr[:], body.Bytes(), ifd.Bytes(), extra.Bytes()} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func putSample(dst []byte, v float64, bits, format int, order binary.ByteOrder, bigEndianFloat bool) {
	if bigEndianFloat {
		order = binary.BigEndian
	}
	switch {
	case format == 3 && bits == 32:
		order.PutUint32(dst, math.Float32bits(float32(v)))
	case format == 3:
		order.PutUint64(dst, math.Float64bits(v))
	case bits == 8:
		dst[0] = byte(int64(v))
	case bits == 16:
		order.PutUint16(dst, uint16(int64(v)))
	default:
		order.PutUint32(dst, uint32(int64(v)))
	}
}

func applyHorizontal(row []byte, spp, bps int, order binary.ByteOrder) {
	n := len(row) / bps
	for i := n - 1; i >= spp; i-- {
		switch bps {
		case 1:
			row[i] -= row[i-spp]
		case 2:
			order.PutUint16(row[2*i:], order.Uint16(row[2*i:])-order.Uint16(row[2*(i-spp):]))
		case 4:
			order.PutUint32(row[4*i:], order.Uint32(row[4*i:])-order.Uint32(row[4*(i-spp):]))
		}
	}
}

// applyFloat expects big-endian samples in row.
func applyFloat(row []byte, spp, bps int) {
	wc := len(row) / bps
	tmp := make([]byte, len(row))
	for i := 0; i < wc; i++ {
		for b := 0; b < bps; b++ {
			tmp[b*wc+i] = row[bps*i+b]
		}
	}
	for i := len(tmp) - 1; i >= spp; i-- {
		tmp[i] -= tmp[i-spp]
	}
	copy(row, tmp)
}
