// Package admission decides which region results are worth caching, based
// on how often queries land near the same location.
package admission

import (
	"log/slog"

	"github.com/mohammed-shakir/zonalstats/internal/hotness"
	"github.com/mohammed-shakir/zonalstats/internal/mapper"
)

// Touch is what one observed query centre counted against: its cell and,
// when there is one, the enclosing cell one resolution up. The zero Touch
// means the centre could not be mapped.
type Touch struct {
	Cell   string
	Parent string
}

type Interface interface {
	// Observe records a query centred at (lat, lon).
	Observe(lat, lon float64) Touch
	// ShouldCache reports whether results of a region around t are
	// admitted to the cache.
	ShouldCache(t Touch) bool
}

// Always admits everything; used when admission control is disabled.
type Always struct{}

func (Always) Observe(float64, float64) Touch { return Touch{} }
func (Always) ShouldCache(Touch) bool         { return true }

// Engine admits a result once its cell, or the cell's parent at Res-1,
// has been queried often enough.
type Engine struct {
	Hot       hotness.Interface
	Threshold float64
	Res       int
	Mapper    mapper.Interface
	Logger    *slog.Logger
}

var (
	_ Interface = (*Engine)(nil)
	_ Interface = Always{}
)

func (e *Engine) Observe(lat, lon float64) Touch {
	if e.Hot == nil || e.Mapper == nil {
		return Touch{}
	}
	cell, err := e.Mapper.CellForPoint(lat, lon, e.Res)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Debug("admission: no cell for point", "lat", lat, "lon", lon, "err", err)
		}
		return Touch{}
	}
	e.Hot.Inc(cell)
	t := Touch{Cell: cell}
	if e.Res > 0 {
		if p, err := e.Mapper.ToParent(cell, e.Res-1); err == nil {
			e.Hot.Inc(p)
			t.Parent = p
		}
	}
	return t
}

// ShouldCache admits t when its cell reaches the threshold. A parent cell
// aggregates seven children so it needs twice the score.
func (e *Engine) ShouldCache(t Touch) bool {
	if t.Cell == "" || e.Hot == nil {
		return false
	}
	if e.Hot.Score(t.Cell) >= e.Threshold {
		return true
	}
	return t.Parent != "" && e.Hot.Score(t.Parent) >= 2*e.Threshold
}
