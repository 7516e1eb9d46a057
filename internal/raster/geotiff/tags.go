package geotiff

// TIFF tags
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// field types
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]uint32{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

// compression schemes
const (
	CompressionNone     = 1
	CompressionLZW      = 5
	CompressionDeflate  = 8
	CompressionPackBits = 32773
	compressionDeflateX = 32946
)

// sample formats
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

// predictors
const (
	PredictorNone       = 1
	PredictorHorizontal = 2
	PredictorFloat      = 3
)

// GeoKeys
const (
	keyGTModelType     = 1024
	keyGTRasterType    = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072
)

const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// SamplesPerPixel is a SHORT.
const maxSamplesPerPixel = 1<<16 - 1
