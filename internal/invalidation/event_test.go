package invalidation

import (
	"testing"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: OpRetire, RasterID: "0a1b2c3d4e5f", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	ev.BBox = nil
	if err := ev.Validate(); err != nil {
		t.Fatalf("bbox is optional: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := Event{Version: 1, Op: OpRetire, RasterID: "0a1b2c3d4e5f", TS: mustTS()}
	cases := map[string]func(*Event){
		"version":   func(e *Event) { e.Version = 2 },
		"op":        func(e *Event) { e.Op = "update" },
		"raster id": func(e *Event) { e.RasterID = "  " },
		"ts":        func(e *Event) { e.TS = time.Time{} },
		"srid":      func(e *Event) { e.BBox = &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:3857"} },
		"empty box": func(e *Event) { e.BBox = &BBox{X1: 11, Y1: 55, X2: 11, Y2: 56, SRID: "EPSG:4326"} },
		"lat range": func(e *Event) { e.BBox = &BBox{X1: 11, Y1: 55, X2: 12, Y2: 96, SRID: "EPSG:4326"} },
	}
	for name, mut := range cases {
		ev := base
		mut(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBBoxOf(t *testing.T) {
	bb := BBoxOf(model.Bounds{West: 10, South: 59, East: 11, North: 60})
	if bb == nil || bb.X1 != 10 || bb.Y2 != 60 || bb.SRID != "EPSG:4326" {
		t.Fatalf("bbox=%+v", bb)
	}
	if BBoxOf(model.Bounds{}) != nil {
		t.Fatal("degenerate bounds should give nil")
	}
}
