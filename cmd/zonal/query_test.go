package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mohammed-shakir/zonalstats/internal/core/config"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/raster/geotiff/geotifftest"
)

func TestParsePoint(t *testing.T) {
	p, err := parsePoint(" Oslo = 59.91, 10.75")
	if err != nil || p.Name != "Oslo" || p.Lat != 59.91 || p.Lon != 10.75 {
		t.Fatalf("got %+v %v", p, err)
	}
	p, err = parsePoint("1,2")
	if err != nil || p.Name != "" || p.Lat != 1 || p.Lon != 2 {
		t.Fatalf("unnamed point: %+v %v", p, err)
	}
	for _, bad := range []string{"x=1", "a=lat,2", "1,lon"} {
		if _, err := parsePoint(bad); !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("%q: %v", bad, err)
		}
	}
}

func TestCommands_CircleAndCompare(t *testing.T) {
	path, err := geotifftest.WriteFile(t.TempDir(), "ones.tif", geotifftest.Options{
		Width: 20, Height: 20,
		Bands:   [][]float64{geotifftest.Fill(20, 20, func(int, int) float64 { return 1 })},
		OriginX: 10, OriginY: 60, ResX: 0.05, ResY: 0.05, EPSG: 4326,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg = config.FromEnv()
	appLog = slog.New(slog.NewTextHandler(io.Discard, nil))

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		c := circleCmd()
		switch args[0] {
		case "compare":
			c = compareCmd()
		case "band":
			c = bandCmd()
		}
		c.SetOut(&out)
		c.SetArgs(args[1:])
		if err := c.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	var resp model.QueryResponse
	if err := json.Unmarshal([]byte(run("circle", path, "--lat", "59.5", "--lon", "10.5", "-r", "3,1", "--stats", "count,mean")), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Results[0].Label != "r=1 km" || *resp.Results[1].Stats["mean"] != 1 {
		t.Fatalf("circle response %+v", resp)
	}

	csv := run("compare", path, "-r", "2", "-p", "in=59.5,10.5", "-p", "out=0,0", "-f", "csv")
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 3 || lines[0] != "label,sum,lat,lon" || !strings.HasPrefix(lines[2], "out,,") {
		t.Fatalf("compare csv=%q", csv)
	}

	geo := run("band", path, "--lat", "59.5", "--lon", "10.5", "--edges", "0,1,2", "-f", "geojson")
	if !strings.Contains(geo, `"FeatureCollection"`) {
		t.Fatalf("band geojson=%s", geo)
	}
}
