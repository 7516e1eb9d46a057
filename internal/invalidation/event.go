// Package invalidation carries raster retirement events between replicas
// so every cache drops results computed from a raster that is gone.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

const OpRetire = "retire"

type Event struct {
	Version       int       `json:"version"`
	Op            string    `json:"op"`
	RasterID      string    `json:"raster_id"`
	RasterVersion uint64    `json:"raster_version,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ReplacedBy    string    `json:"replaced_by,omitempty"`
	Source        string    `json:"source,omitempty"`
	TS            time.Time `json:"ts"`
	BBox          *BBox     `json:"bbox,omitempty"`
}

// BBox is the WGS84 footprint of the retired raster.
type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func BBoxOf(b model.Bounds) *BBox {
	if b.East <= b.West || b.North <= b.South {
		return nil
	}
	return &BBox{X1: b.West, Y1: b.South, X2: b.East, Y2: b.North, SRID: "EPSG:4326"}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.Op != OpRetire {
		return fmt.Errorf("op must be %s", OpRetire)
	}
	if strings.TrimSpace(e.RasterID) == "" {
		return fmt.Errorf("raster_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return nil
	}
	bb := *e.BBox
	if bb.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
		return fmt.Errorf("bbox must satisfy x2>x1 and y2>y1")
	}
	return nil
}
