// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("raster not found")
	ErrStale               = errors.New("stale raster")
	ErrRegionOutsideRaster = errors.New("region does not intersect raster")
	ErrBackendUnavailable  = errors.New("backend unavailable")
)

// Invalidf wraps ErrInvalidInput with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StaleError reports a query against a retired raster handle.
type StaleError struct {
	RasterID  string
	Version   uint64
	CurrentID string
}

func (e *StaleError) Error() string {
	if e.CurrentID != "" {
		return fmt.Sprintf("raster %s (version %d) was replaced by %s", e.RasterID, e.Version, e.CurrentID)
	}
	return fmt.Sprintf("raster %s (version %d) is no longer current", e.RasterID, e.Version)
}

func (e *StaleError) Unwrap() error { return ErrStale }

type QueryKind string

const (
	QueryCircle  QueryKind = "circle"
	QueryBand    QueryKind = "band"
	QueryRect    QueryKind = "rect"
	QueryCompare QueryKind = "compare"
)

func (k QueryKind) Valid() bool {
	switch k {
	case QueryCircle, QueryBand, QueryRect, QueryCompare:
		return true
	}
	return false
}

// Bounds in WGS84 degrees.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// RasterInfo is the public description of a loaded raster handle.
type RasterInfo struct {
	ID            string       `json:"raster_id"`
	Version       uint64       `json:"version"`
	Filename      string       `json:"filename"`
	CRS           string       `json:"crs"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	Res           [2]float64   `json:"res"`
	Bands         int          `json:"bands"`
	NoData        *float64     `json:"nodata"`
	Bounds        Bounds       `json:"bounds"`
	BoundsPolygon [][2]float64 `json:"bounds_polygon"`
}

type Point struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// QueryRequest is an immutable, single-use query description.
type QueryRequest struct {
	Kind     QueryKind
	RasterID string
	Version  uint64
	Center   Point
	RadiiKM  []float64
	EdgesKM  []float64
	HalfWKM  float64
	HalfHKM  float64
	Points   []Point
	Stats    []string
	Band     int
	Strategy string
}

// Region is a labelled geometry in the raster's native CRS.
type Region struct {
	Label    string
	Geometry orb.Polygon
	Center   orb.Point
	Point    *Point
	// Fingerprint identifies the construction parameters; equal fingerprints
	// on the same raster produce equal statistics.
	Fingerprint string
}

// Stats maps a statistic name to its value; nil marks "no value".
type Stats map[string]*float64

// Result is one packaged region outcome.
type Result struct {
	Label    string      `json:"label"`
	Geometry orb.Polygon `json:"-"`
	GeoJSON  any         `json:"geometry"`
	Stats    Stats       `json:"stats"`
	Point    *Point      `json:"point,omitempty"`
	Outside  bool        `json:"outside,omitempty"`
	Cached   bool        `json:"-"`
}

// QueryResponse is the uniform response shape of every query kind.
type QueryResponse struct {
	RasterID string    `json:"raster_id"`
	Version  uint64    `json:"version"`
	Query    QueryKind `json:"query"`
	Exact    bool      `json:"exact"`
	Strategy string    `json:"strategy"`
	Results  []Result  `json:"results"`
}

// Float returns a pointer to v, for building Stats values.
func Float(v float64) *float64 { return &v }
