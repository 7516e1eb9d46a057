package router

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

type pointBody struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

// queryBody is the JSON body shared by every query endpoint. Fields not
// used by a query kind are ignored.
type queryBody struct {
	RasterID string      `json:"raster_id"`
	Version  uint64      `json:"version"`
	Lat      *float64    `json:"lat"`
	Lon      *float64    `json:"lon"`
	RadiusKM *float64    `json:"radius_km"`
	RadiiKM  []float64   `json:"radii_km"`
	EdgesKM  []float64   `json:"edges_km"`
	HalfWKM  *float64    `json:"half_w_km"`
	HalfHKM  *float64    `json:"half_h_km"`
	Points   []pointBody `json:"points"`
	Stats    []string    `json:"stats"`
	Band     *int        `json:"band"`
	Strategy string      `json:"strategy"`
}

func decodeQuery(r io.Reader, kind model.QueryKind) (model.QueryRequest, error) {
	if !kind.Valid() {
		return model.QueryRequest{}, model.Invalidf("unknown query kind %q", kind)
	}
	var b queryBody
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return model.QueryRequest{}, model.Invalidf("decode body: %v", err)
	}
	if strings.TrimSpace(b.RasterID) == "" {
		return model.QueryRequest{}, model.Invalidf("missing raster_id")
	}

	q := model.QueryRequest{
		Kind:     kind,
		RasterID: b.RasterID,
		Version:  b.Version,
		Stats:    b.Stats,
		Band:     1,
		Strategy: strings.ToLower(strings.TrimSpace(b.Strategy)),
	}
	if b.Band != nil {
		if *b.Band < 1 {
			return model.QueryRequest{}, model.Invalidf("band must be >= 1")
		}
		q.Band = *b.Band
	}

	if kind != model.QueryCompare {
		if b.Lat == nil || b.Lon == nil {
			return model.QueryRequest{}, model.Invalidf("missing lat/lon")
		}
		q.Center = model.Point{Lat: *b.Lat, Lon: *b.Lon}
	}

	switch kind {
	case model.QueryCircle:
		q.RadiiKM = b.RadiiKM
		if b.RadiusKM != nil {
			q.RadiiKM = append(q.RadiiKM, *b.RadiusKM)
		}
		if len(q.RadiiKM) == 0 {
			return model.QueryRequest{}, model.Invalidf("no radii provided")
		}
	case model.QueryBand:
		q.EdgesKM = b.EdgesKM
	case model.QueryRect:
		if b.HalfWKM == nil || b.HalfHKM == nil {
			return model.QueryRequest{}, model.Invalidf("missing half_w_km/half_h_km")
		}
		q.HalfWKM, q.HalfHKM = *b.HalfWKM, *b.HalfHKM
	case model.QueryCompare:
		if b.RadiusKM == nil {
			return model.QueryRequest{}, model.Invalidf("missing radius_km")
		}
		q.RadiiKM = []float64{*b.RadiusKM}
		for i, p := range b.Points {
			if p.Lat == nil || p.Lon == nil {
				return model.QueryRequest{}, model.Invalidf("point %d: missing lat/lon", i+1)
			}
			q.Points = append(q.Points, model.Point{Name: strings.TrimSpace(p.Name), Lat: *p.Lat, Lon: *p.Lon})
		}
	}
	return q, nil
}
