package zonal_test

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
	"github.com/mohammed-shakir/zonalstats/internal/raster/geotiff/geotifftest"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

func openRaster(t *testing.T, o geotifftest.Options) *raster.Dataset {
	t.Helper()
	p, err := geotifftest.WriteFile(t.TempDir(), "r.tif", o)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ds, err := raster.Open(p, nil, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func box(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func strategies(t *testing.T) []zonal.Strategy {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var out []zonal.Strategy
	for _, n := range []string{zonal.Exact, zonal.Centroid} {
		s, err := zonal.New(n, log)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, s)
	}
	return out
}

func TestCompute_WholeRasterRect(t *testing.T) {
	nd := -9999.0
	vals := geotifftest.Fill(5, 4, func(x, y int) float64 { return float64(y*5 + x) })
	vals[7] = nd
	ds := openRaster(t, geotifftest.Options{
		Width: 5, Height: 4,
		Bands:   [][]float64{vals},
		OriginX: 10, OriginY: 60, ResX: 0.1, ResY: 0.1,
		EPSG: 4326, NoData: &nd,
	})

	// sum of 0..19 without the nodata pixel holding 7
	wantSum, wantCount := 190.0-7, 19.0
	for _, s := range strategies(t) {
		got, err := zonal.Compute(s, ds, 1, box(9, 59, 11, 61), []string{"sum", "count", "min", "max", "mean"})
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		if *got["sum"] != wantSum || *got["count"] != wantCount {
			t.Fatalf("%s: sum=%v count=%v", s.Name(), *got["sum"], *got["count"])
		}
		if *got["min"] != 0 || *got["max"] != 19 || math.Abs(*got["mean"]-wantSum/wantCount) > 1e-12 {
			t.Fatalf("%s: unexpected stats %v %v %v", s.Name(), *got["min"], *got["max"], *got["mean"])
		}
	}
}

func TestCompute_PartialPixelWeights(t *testing.T) {
	ds := openRaster(t, geotifftest.Options{
		Width: 2, Height: 1,
		Bands:   [][]float64{{2, 4}},
		OriginX: 0, OriginY: 1, ResX: 1, ResY: 1,
		EPSG: 4326,
	})
	ss := strategies(t)
	// covers all of pixel 0 and a quarter of pixel 1
	got, err := zonal.Compute(ss[0], ds, 1, box(0, 0, 1.25, 1), []string{"sum", "count"})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(*got["sum"]-3) > 1e-12 || math.Abs(*got["count"]-1.25) > 1e-12 {
		t.Fatalf("exact: sum=%v count=%v", *got["sum"], *got["count"])
	}
	got, err = zonal.Compute(ss[1], ds, 1, box(0, 0, 1.25, 1), []string{"sum", "count"})
	if err != nil {
		t.Fatal(err)
	}
	if *got["sum"] != 2 || *got["count"] != 1 {
		t.Fatalf("centroid: sum=%v count=%v", *got["sum"], *got["count"])
	}
}

func TestCompute_SkipsInfinitePixels(t *testing.T) {
	vals := geotifftest.Fill(10, 10, func(int, int) float64 { return 1 })
	vals[11] = math.Inf(1)
	vals[42] = math.Inf(-1)
	ds := openRaster(t, geotifftest.Options{
		Width: 10, Height: 10,
		Bands:   [][]float64{vals},
		Type:    geotifftest.Float32,
		OriginX: 0, OriginY: 10, ResX: 1, ResY: 1,
		EPSG: 4326,
	})
	for _, s := range strategies(t) {
		got, err := zonal.Compute(s, ds, 1, box(-1, -1, 11, 11), []string{"sum", "count", "mean", "max", "stdev"})
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		if *got["sum"] != 98 || *got["count"] != 98 || *got["mean"] != 1 || *got["max"] != 1 || *got["stdev"] != 0 {
			t.Fatalf("%s: sum=%v count=%v mean=%v max=%v stdev=%v", s.Name(),
				*got["sum"], *got["count"], *got["mean"], *got["max"], *got["stdev"])
		}
	}
}

func TestCompute_OutsideAndBadBand(t *testing.T) {
	ds := openRaster(t, geotifftest.Options{
		Width: 2, Height: 2,
		Bands:   [][]float64{{1, 2, 3, 4}},
		OriginX: 0, OriginY: 2, ResX: 1, ResY: 1,
		EPSG: 4326,
	})
	s := strategies(t)[0]
	if _, err := zonal.Compute(s, ds, 1, box(10, 10, 11, 11), []string{"sum"}); !errors.Is(err, model.ErrRegionOutsideRaster) {
		t.Fatalf("outside: %v", err)
	}
	if _, err := zonal.Compute(s, ds, 2, box(0, 0, 1, 1), []string{"sum"}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("bad band: %v", err)
	}
}

func TestSelector_ExactDisabled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sel, err := zonal.NewSelector(zonal.Exact, false, log)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if sel.Default().Name() != zonal.Centroid || sel.ExactAvailable() {
		t.Fatalf("default=%s exact=%t", sel.Default().Name(), sel.ExactAvailable())
	}
	s, err := sel.Pick(zonal.Exact)
	if err != nil || s.Exact() {
		t.Fatalf("exact request should degrade, got %v %v", s, err)
	}
	if _, err := sel.Pick("voronoi"); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("unknown strategy: %v", err)
	}

	sel, err = zonal.NewSelector(zonal.Exact, true, log)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := sel.Pick(""); !s.Exact() {
		t.Fatal("default should be exact")
	}
	if s, _ := sel.Pick(zonal.Centroid); s.Exact() {
		t.Fatal("centroid override ignored")
	}
}
