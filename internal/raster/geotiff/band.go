package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func (im *Image) chunksPerPlane() int {
	if im.Tiled {
		return ceilDiv(im.Width, im.TileWidth) * ceilDiv(im.Height, im.TileHeight)
	}
	return ceilDiv(im.Height, im.RowsPerStrip)
}

func (im *Image) chunkCount() int {
	if im.Planar {
		return im.chunksPerPlane() * im.SamplesPerPixel
	}
	return im.chunksPerPlane()
}

// ReadBand decodes band (1-based) into a row-major slice of Width*Height
// values.
func (im *Image) ReadBand(band int) ([]float64, error) {
	if band < 1 || band > im.SamplesPerPixel {
		return nil, fmt.Errorf("geotiff: band %d out of range [1, %d]", band, im.SamplesPerPixel)
	}
	out := make([]float64, im.Width*im.Height)

	spp := im.SamplesPerPixel
	sample := band - 1
	base := 0
	if im.Planar {
		spp = 1
		sample = 0
		base = (band - 1) * im.chunksPerPlane()
	}

	across := 1
	cw, ch := im.Width, im.RowsPerStrip
	if im.Tiled {
		across = ceilDiv(im.Width, im.TileWidth)
		cw, ch = im.TileWidth, im.TileHeight
	}

	for c := 0; c < im.chunksPerPlane(); c++ {
		x0 := (c % across) * cw
		y0 := (c / across) * ch
		rows := ch
		if !im.Tiled && y0+rows > im.Height {
			rows = im.Height - y0
		}
		data, err := im.readChunk(base+c, cw, rows, spp)
		if err != nil {
			return nil, fmt.Errorf("geotiff: chunk %d: %w", base+c, err)
		}
		order := im.order
		if im.Predictor == PredictorFloat {
			order = binary.BigEndian
		}
		bps := im.BitsPerSample / 8
		for y := 0; y < rows && y0+y < im.Height; y++ {
			row := data[y*cw*spp*bps:]
			for x := 0; x < cw && x0+x < im.Width; x++ {
				out[(y0+y)*im.Width+x0+x] = im.sampleAt(row, x*spp+sample, order)
			}
		}
	}
	return out, nil
}

func (im *Image) sampleAt(row []byte, i int, order binary.ByteOrder) float64 {
	switch im.SampleFormat {
	case SampleFloat:
		if im.BitsPerSample == 32 {
			return float64(math.Float32frombits(order.Uint32(row[4*i:])))
		}
		return math.Float64frombits(order.Uint64(row[8*i:]))
	case SampleInt:
		switch im.BitsPerSample {
		case 8:
			return float64(int8(row[i]))
		case 16:
			return float64(int16(order.Uint16(row[2*i:])))
		default:
			return float64(int32(order.Uint32(row[4*i:])))
		}
	default:
		switch im.BitsPerSample {
		case 8:
			return float64(row[i])
		case 16:
			return float64(order.Uint16(row[2*i:]))
		default:
			return float64(order.Uint32(row[4*i:]))
		}
	}
}

// readChunk returns the decompressed, predictor-reversed bytes of chunk idx,
// which holds rows rows of width pixels with spp samples each.
func (im *Image) readChunk(idx, width, rows, spp int) ([]byte, error) {
	bps := im.BitsPerSample / 8
	rowBytes := width * spp * bps
	want := rowBytes * rows

	raw := make([]byte, im.counts[idx])
	if _, err := im.r.ReadAt(raw, int64(im.offsets[idx])); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var data []byte
	switch im.Compression {
	case CompressionNone:
		data = raw
	case CompressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		d, err := readUpTo(rc, want)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		data = d
	case CompressionDeflate, compressionDeflateX:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		d, err := readUpTo(zr, want)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		data = d
	case CompressionPackBits:
		d, err := unpackBits(raw, want)
		if err != nil {
			return nil, err
		}
		data = d
	}
	if len(data) < want {
		return nil, fmt.Errorf("short chunk: got %d bytes, want %d", len(data), want)
	}
	data = data[:want]

	switch im.Predictor {
	case PredictorHorizontal:
		for y := 0; y < rows; y++ {
			undoHorizontal(data[y*rowBytes:(y+1)*rowBytes], spp, bps, im.order)
		}
	case PredictorFloat:
		tmp := make([]byte, rowBytes)
		for y := 0; y < rows; y++ {
			undoFloat(data[y*rowBytes:(y+1)*rowBytes], tmp, spp, bps)
		}
	}
	return data, nil
}

// readUpTo reads until n bytes or EOF. Some writers end LZW strips without
// an EOI code, which surfaces as an unexpected EOF after a complete chunk.
func readUpTo(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:got], nil
}

func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	for i := 0; i < len(src) && len(dst) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, errors.New("packbits: literal run past end")
			}
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return nil, errors.New("packbits: repeat past end")
			}
			for k := 0; k < 1-n; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}

func undoHorizontal(row []byte, spp, bps int, order binary.ByteOrder) {
	n := len(row) / bps
	switch bps {
	case 1:
		for i := spp; i < n; i++ {
			row[i] += row[i-spp]
		}
	case 2:
		for i := spp; i < n; i++ {
			v := order.Uint16(row[2*i:]) + order.Uint16(row[2*(i-spp):])
			order.PutUint16(row[2*i:], v)
		}
	case 4:
		for i := spp; i < n; i++ {
			v := order.Uint32(row[4*i:]) + order.Uint32(row[4*(i-spp):])
			order.PutUint32(row[4*i:], v)
		}
	}
}

// undoFloat reverses the floating point predictor in place. The result is
// big-endian regardless of the file byte order.
func undoFloat(row, tmp []byte, spp, bps int) {
	for i := spp; i < len(row); i++ {
		row[i] += row[i-spp]
	}
	copy(tmp, row)
	wc := len(row) / bps
	for i := 0; i < wc; i++ {
		for b := 0; b < bps; b++ {
			row[bps*i+b] = tmp[b*wc+i]
		}
	}
}
