package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/admission"
	"github.com/mohammed-shakir/zonalstats/internal/cache/memstore"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
	"github.com/mohammed-shakir/zonalstats/internal/raster/geotiff/geotifftest"
	"github.com/mohammed-shakir/zonalstats/internal/region"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// 100x100 pixels of 0.01 degrees covering lon 10..11, lat 59..60, all ones.
func newFixture(t *testing.T, opts ...Option) (*Service, model.RasterInfo, *registry.Store) {
	t.Helper()
	bands, err := raster.NewBandCache(4)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(registry.Options{Dir: t.TempDir(), SingleActive: true, Tombstones: 4, BandCache: bands, Logger: discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	p, err := geotifftest.WriteFile(t.TempDir(), "ones.tif", geotifftest.Options{
		Width: 100, Height: 100,
		Bands:   [][]float64{geotifftest.Fill(100, 100, func(int, int) float64 { return 1 })},
		OriginX: 10, OriginY: 60, ResX: 0.01, ResY: 0.01, EPSG: 4326,
	})
	if err != nil {
		t.Fatal(err)
	}
	info, err := reg.LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	sel, err := zonal.NewSelector(zonal.Exact, true, discard())
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, region.NewBuilder(0), sel, discard(), opts...), info, reg
}

func TestRun_CirclesSortedAndLabelled(t *testing.T) {
	svc, info, _ := newFixture(t)
	resp, err := svc.Run(context.Background(), model.QueryRequest{
		Kind: model.QueryCircle, RasterID: info.ID,
		Center:  model.Point{Lat: 59.5, Lon: 10.5},
		RadiiKM: []float64{5, 2},
		Stats:   []string{"count", "mean", "bogus"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Exact || resp.Strategy != zonal.Exact || resp.Version != info.Version {
		t.Fatalf("unexpected response header %+v", resp)
	}
	if len(resp.Results) != 2 || resp.Results[0].Label != "r=2 km" || resp.Results[1].Label != "r=5 km" {
		t.Fatalf("results=%+v", resp.Results)
	}
	small, large := resp.Results[0], resp.Results[1]
	if *small.Stats["count"] >= *large.Stats["count"] {
		t.Fatalf("counts not increasing: %v %v", *small.Stats["count"], *large.Stats["count"])
	}
	if math.Abs(*large.Stats["mean"]-1) > 1e-9 {
		t.Fatalf("mean=%v", *large.Stats["mean"])
	}
	if _, ok := large.Stats["bogus"]; ok {
		t.Fatal("unknown stat leaked into results")
	}
	if large.GeoJSON == nil || len(large.Geometry) != 1 {
		t.Fatal("missing geometry")
	}
	// geometry is returned in WGS84
	b := large.Geometry.Bound()
	if b.Min[0] < 10.3 || b.Max[0] > 10.7 || b.Min[1] < 59.4 || b.Max[1] > 59.6 {
		t.Fatalf("geometry bound %v not around the centre", b)
	}
}

func TestRun_BandRingsSumToDisk(t *testing.T) {
	svc, info, _ := newFixture(t)
	ctx := context.Background()
	band, err := svc.Run(ctx, model.QueryRequest{
		Kind: model.QueryBand, RasterID: info.ID,
		Center: model.Point{Lat: 59.5, Lon: 10.5}, EdgesKM: []float64{0, 5, 10},
	})
	if err != nil {
		t.Fatalf("band: %v", err)
	}
	if len(band.Results) != 2 || band.Results[0].Label != "0–5 km" || band.Results[1].Label != "5–10 km" {
		t.Fatalf("labels %q %q", band.Results[0].Label, band.Results[1].Label)
	}
	disk, err := svc.Run(ctx, model.QueryRequest{
		Kind: model.QueryCircle, RasterID: info.ID,
		Center: model.Point{Lat: 59.5, Lon: 10.5}, RadiiKM: []float64{10},
	})
	if err != nil {
		t.Fatalf("circle: %v", err)
	}
	rings := *band.Results[0].Stats["sum"] + *band.Results[1].Stats["sum"]
	whole := *disk.Results[0].Stats["sum"]
	if math.Abs(rings-whole) > 1e-6*whole {
		t.Fatalf("rings %v != disk %v", rings, whole)
	}
}

func TestRun_RectCoveringRaster(t *testing.T) {
	svc, info, _ := newFixture(t)
	for _, s := range []string{zonal.Exact, zonal.Centroid} {
		resp, err := svc.Run(context.Background(), model.QueryRequest{
			Kind: model.QueryRect, RasterID: info.ID, Strategy: s,
			Center:  model.Point{Lat: 59.5, Lon: 10.5},
			HalfWKM: 100, HalfHKM: 100, Stats: []string{"count", "sum"},
		})
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got := *resp.Results[0].Stats["count"]; math.Abs(got-10000) > 1e-6 {
			t.Fatalf("%s: count=%v want 10000", s, got)
		}
		if resp.Results[0].Label != "200×200 km" {
			t.Fatalf("label %q", resp.Results[0].Label)
		}
	}
}

func TestRun_CompareKeepsOrderAndFlagsOutside(t *testing.T) {
	svc, info, _ := newFixture(t)
	resp, err := svc.Run(context.Background(), model.QueryRequest{
		Kind: model.QueryCompare, RasterID: info.ID,
		Points: []model.Point{
			{Name: "far", Lat: 0, Lon: 0},
			{Lat: 59.5, Lon: 10.5},
		},
		RadiiKM: []float64{1},
		Stats:   []string{"sum", "max"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	far, near := resp.Results[0], resp.Results[1]
	if far.Label != "far" || near.Label != "P2" || near.Point == nil || near.Point.Lat != 59.5 {
		t.Fatalf("unexpected labels %q %q", far.Label, near.Label)
	}
	if !far.Outside || far.Stats["sum"] != nil || far.Stats["max"] != nil {
		t.Fatalf("outside result %+v", far)
	}
	if _, ok := far.Stats["sum"]; !ok {
		t.Fatal("outside result should still list requested stats")
	}
	if near.Outside || *near.Stats["max"] != 1 {
		t.Fatalf("inside result %+v", near)
	}
}

func TestRun_Errors(t *testing.T) {
	svc, info, reg := newFixture(t)
	ctx := context.Background()
	base := model.QueryRequest{
		Kind: model.QueryCircle, RasterID: info.ID,
		Center: model.Point{Lat: 59.5, Lon: 10.5}, RadiiKM: []float64{1},
	}

	cases := map[string]struct {
		mut  func(*model.QueryRequest)
		want error
	}{
		"unknown id":   {func(q *model.QueryRequest) { q.RasterID = "nope" }, model.ErrNotFound},
		"old version":  {func(q *model.QueryRequest) { q.Version = info.Version + 1 }, model.ErrStale},
		"bad band":     {func(q *model.QueryRequest) { q.Band = 2 }, model.ErrInvalidInput},
		"bad strategy": {func(q *model.QueryRequest) { q.Strategy = "voronoi" }, model.ErrInvalidInput},
		"bad radius":   {func(q *model.QueryRequest) { q.RadiiKM = []float64{-1} }, model.ErrInvalidInput},
		"bad kind":     {func(q *model.QueryRequest) { q.Kind = "hexagon" }, model.ErrInvalidInput},
	}
	for name, c := range cases {
		q := base
		c.mut(&q)
		if _, err := svc.Run(ctx, q); !errors.Is(err, c.want) {
			t.Fatalf("%s: err=%v want %v", name, err, c.want)
		}
	}

	if err := reg.Remove(info.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(ctx, base); !errors.Is(err, model.ErrStale) {
		t.Fatalf("query after unload: %v", err)
	}
}

type denyAll struct{ observed int }

func (d *denyAll) Observe(float64, float64) admission.Touch {
	d.observed++
	return admission.Touch{Cell: "c"}
}
func (d *denyAll) ShouldCache(admission.Touch) bool { return false }

// hotWest admits only centres west of lon.
type hotWest struct{ lon float64 }

func (h hotWest) Observe(_, lon float64) admission.Touch {
	return admission.Touch{Cell: strconv.FormatFloat(lon, 'f', -1, 64)}
}

func (h hotWest) ShouldCache(t admission.Touch) bool {
	v, err := strconv.ParseFloat(t.Cell, 64)
	return err == nil && v < h.lon
}

func TestRun_CompareAdmitsPerPoint(t *testing.T) {
	store, err := memstore.New(64)
	if err != nil {
		t.Fatal(err)
	}
	svc, info, _ := newFixture(t, WithCache(store, time.Minute, 0), WithAdmission(hotWest{lon: 10.5}))
	ctx := context.Background()
	q := model.QueryRequest{
		Kind: model.QueryCompare, RasterID: info.ID, RadiiKM: []float64{1},
		Points: []model.Point{
			{Name: "east", Lat: 59.5, Lon: 10.8},
			{Name: "west", Lat: 59.5, Lon: 10.2},
			{Name: "east2", Lat: 59.4, Lon: 10.7},
		},
		Stats: []string{"count"},
	}
	if _, err := svc.Run(ctx, q); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("cached %d entries, want only the west point", store.Len())
	}
	again, err := svc.Run(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []bool{false, true, false} {
		if again.Results[i].Cached != want {
			t.Fatalf("%s cached=%t want %t", again.Results[i].Label, again.Results[i].Cached, want)
		}
	}
}

func TestRun_CacheHitsAndAdmission(t *testing.T) {
	store, err := memstore.New(64)
	if err != nil {
		t.Fatal(err)
	}
	svc, info, _ := newFixture(t, WithCache(store, time.Minute, time.Second), WithWorkers(2))
	ctx := context.Background()
	q := model.QueryRequest{
		Kind: model.QueryBand, RasterID: info.ID,
		Center: model.Point{Lat: 59.5, Lon: 10.5}, EdgesKM: []float64{1, 2, 3},
		Stats: []string{"mean", "count"},
	}
	first, err := svc.Run(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if store.Len() != 2 {
		t.Fatalf("cached %d entries, want 2", store.Len())
	}
	second, err := svc.Run(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	for i := range second.Results {
		if !second.Results[i].Cached || first.Results[i].Cached {
			t.Fatalf("result %d cached flags %t/%t", i, first.Results[i].Cached, second.Results[i].Cached)
		}
		if *second.Results[i].Stats["count"] != *first.Results[i].Stats["count"] {
			t.Fatalf("cached stats differ")
		}
		if second.Results[i].Label != first.Results[i].Label || second.Results[i].GeoJSON == nil {
			t.Fatalf("cached result lost its label or geometry")
		}
	}

	// a different stat set is a different key
	q.Stats = []string{"sum"}
	if _, err := svc.Run(ctx, q); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 4 {
		t.Fatalf("cached %d entries, want 4", store.Len())
	}

	deny := &denyAll{}
	store2, _ := memstore.New(64)
	svc2, info2, _ := newFixture(t, WithCache(store2, time.Minute, 0), WithAdmission(deny))
	q.RasterID = info2.ID
	if _, err := svc2.Run(ctx, q); err != nil {
		t.Fatal(err)
	}
	if store2.Len() != 0 || deny.observed != 1 {
		t.Fatalf("admission ignored: len=%d observed=%d", store2.Len(), deny.observed)
	}
}

func TestRun_RegionsAcrossAntimeridian(t *testing.T) {
	bands, err := raster.NewBandCache(2)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(registry.Options{Dir: t.TempDir(), SingleActive: true, BandCache: bands, Logger: discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	// lon 178..180, lat -1..1
	p, err := geotifftest.WriteFile(t.TempDir(), "dateline.tif", geotifftest.Options{
		Width: 200, Height: 200,
		Bands:   [][]float64{geotifftest.Fill(200, 200, func(int, int) float64 { return 1 })},
		OriginX: 178, OriginY: 1, ResX: 0.01, ResY: 0.01, EPSG: 4326,
	})
	if err != nil {
		t.Fatal(err)
	}
	info, err := reg.LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	sel, err := zonal.NewSelector(zonal.Exact, true, discard())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(reg, region.NewBuilder(0), sel, discard())

	count := func(q model.QueryRequest) float64 {
		t.Helper()
		q.RasterID = info.ID
		q.Stats = []string{"count"}
		resp, err := svc.Run(context.Background(), q)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return *resp.Results[0].Stats["count"]
	}
	inner := model.Point{Lat: 0, Lon: 179.5}
	edge := model.Point{Lat: 0, Lon: 179.99}

	full := count(model.QueryRequest{Kind: model.QueryCircle, Center: inner, RadiiKM: []float64{5}})
	part := count(model.QueryRequest{Kind: model.QueryCircle, Center: edge, RadiiKM: []float64{5}})
	if part <= 0 || part >= 0.6*full {
		t.Fatalf("circle at the dateline counted %v pixels, interior %v", part, full)
	}

	fullRect := count(model.QueryRequest{Kind: model.QueryRect, Center: inner, HalfWKM: 5, HalfHKM: 5})
	partRect := count(model.QueryRequest{Kind: model.QueryRect, Center: edge, HalfWKM: 5, HalfHKM: 5})
	if partRect <= 0 || partRect >= 0.6*fullRect {
		t.Fatalf("rect at the dateline counted %v pixels, interior %v", partRect, fullRect)
	}
}
