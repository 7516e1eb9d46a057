// Package composer renders query responses in the format the client
// negotiated: the plain JSON envelope or a GeoJSON FeatureCollection.
package composer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
)

type HitClass string

const (
	HitClassFull    HitClass = "full_hit"
	HitClassPartial HitClass = "partial_hit"
	HitClassMiss    HitClass = "miss"
)

func classifyHit(results []model.Result) HitClass {
	if len(results) == 0 {
		return HitClassMiss
	}
	allHit := true
	anyHit := false
	for _, r := range results {
		if r.Cached {
			anyHit = true
		} else {
			allHit = false
		}
	}
	switch {
	case allHit:
		return HitClassFull
	case anyHit:
		return HitClassPartial
	default:
		return HitClassMiss
	}
}

type Format int

const (
	FormatJSON Format = iota
	FormatGeoJSON
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

type NegotiationInput struct {
	AcceptHeader  string
	OutputFormat  string
	DefaultFormat Format
}

type Negotiation struct {
	Format      Format
	ContentType string
}

func negotiation(f Format) Negotiation {
	if f == FormatGeoJSON {
		return Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
	}
	return Negotiation{Format: FormatJSON, ContentType: ContentTypeJSON}
}

// NegotiateFormat determines the output format and content type. An
// explicit ?f= wins over the Accept header.
func NegotiateFormat(in NegotiationInput) Negotiation {
	of := strings.ToLower(strings.TrimSpace(in.OutputFormat))
	switch {
	case of == "geojson", strings.HasPrefix(of, "application/geo+json"):
		return negotiation(FormatGeoJSON)
	case of == "json", strings.HasPrefix(of, "application/json"):
		return negotiation(FormatJSON)
	}

	ah := strings.ToLower(in.AcceptHeader)
	bestQ := -1.0
	best := Negotiation{}
	for part := range strings.SplitSeq(ah, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		var cand *Negotiation
		switch {
		case mt == "*/*":
			tmp := negotiation(in.DefaultFormat)
			cand = &tmp
		case strings.Contains(mt, "geo+json"):
			tmp := negotiation(FormatGeoJSON)
			cand = &tmp
		case mt == "application/json":
			tmp := negotiation(FormatJSON)
			cand = &tmp
		}
		if cand != nil && q > bestQ {
			bestQ = q
			best = *cand
		}
	}
	if bestQ >= 0 {
		return best
	}
	return negotiation(in.DefaultFormat)
}

type Request struct {
	Response     model.QueryResponse
	AcceptHeader string
	OutputFormat string
}

type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
	HitClass    HitClass
}

// Compose serializes the response in the negotiated format.
func Compose(req Request) (Result, error) {
	t0 := time.Now()
	neg := NegotiateFormat(NegotiationInput{
		AcceptHeader:  req.AcceptHeader,
		OutputFormat:  req.OutputFormat,
		DefaultFormat: FormatJSON,
	})

	var v any = req.Response
	if neg.Format == FormatGeoJSON {
		v = FeatureCollection(req.Response)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("marshal %s: %w", formatString(neg.Format), err)
	}
	res := Result{
		StatusCode:  http.StatusOK,
		Body:        body,
		ContentType: neg.ContentType,
		HitClass:    classifyHit(req.Response.Results),
	}
	observability.ObserveResponse(string(res.HitClass), formatString(neg.Format), time.Since(t0).Seconds())
	return res, nil
}

// FeatureCollection has one feature per result, in result order. Statistics
// become flat properties next to label, outside and the compare point.
func FeatureCollection(resp model.QueryResponse) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, r := range resp.Results {
		f := geojson.NewFeature(r.Geometry)
		f.ID = i
		f.Properties["label"] = r.Label
		for k, v := range r.Stats {
			f.Properties[k] = v
		}
		if r.Outside {
			f.Properties["outside"] = true
		}
		if r.Point != nil {
			f.Properties["point_name"] = r.Point.Name
			f.Properties["lat"] = r.Point.Lat
			f.Properties["lon"] = r.Point.Lon
		}
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"raster_id": resp.RasterID,
		"version":   resp.Version,
		"query":     resp.Query,
		"exact":     resp.Exact,
		"strategy":  resp.Strategy,
	}
	return fc
}

func formatString(f Format) string {
	if f == FormatGeoJSON {
		return "geojson"
	}
	return "json"
}
