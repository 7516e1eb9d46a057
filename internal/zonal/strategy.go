// Package zonal computes statistics of raster pixels covered by a polygon.
package zonal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonalstats/internal/core/model"
)

// Strategy names.
const (
	Exact    = "exact"
	Centroid = "centroid"
)

// Strategy decides which pixels a polygon covers and by how much.
type Strategy interface {
	Name() string
	// Exact reports whether weights are true area fractions.
	Exact() bool
	// Cover calls fn once per covered pixel of a width x height grid with a
	// weight in (0, 1]. poly is in fractional pixel coordinates.
	Cover(width, height int, poly orb.Polygon, fn func(col, row int, w float64))
}

type Factory func() Strategy

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// Strategies returns the registered strategy names, sorted.
func Strategies() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New returns the strategy registered under name, falling back to centroid.
func New(name string, logger *slog.Logger) (Strategy, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	if f, ok := reg[Centroid]; ok {
		logger.Warn("unknown stats strategy; falling back to centroid", "strategy", name)
		return f(), nil
	}
	return nil, fmt.Errorf("no factory for strategy %q and no centroid registered", name)
}

// Selector resolves per-request strategy names against the configured
// default. With exact disabled, exact requests degrade to centroid.
type Selector struct {
	def          Strategy
	exactEnabled bool
	logger       *slog.Logger
}

func NewSelector(def string, exactEnabled bool, logger *slog.Logger) (*Selector, error) {
	s := &Selector{exactEnabled: exactEnabled, logger: logger}
	d, err := s.resolve(def)
	if err != nil && !errors.Is(err, model.ErrBackendUnavailable) {
		return nil, err
	}
	if err != nil {
		logger.Warn("exact strategy disabled; defaulting to centroid")
	}
	s.def = d
	return s, nil
}

func (s *Selector) resolve(name string) (Strategy, error) {
	if name == Exact && !s.exactEnabled {
		st, err := New(Centroid, s.logger)
		if err != nil {
			return nil, err
		}
		return st, fmt.Errorf("%w: exact extraction disabled", model.ErrBackendUnavailable)
	}
	return New(name, s.logger)
}

// Default is the configured strategy.
func (s *Selector) Default() Strategy { return s.def }

// ExactAvailable reports whether the exact strategy may be used.
func (s *Selector) ExactAvailable() bool { return s.exactEnabled }

// Pick returns the strategy for a request. An empty name selects the
// default; unknown names are rejected.
func (s *Selector) Pick(name string) (Strategy, error) {
	if name == "" {
		return s.def, nil
	}
	if _, ok := reg[name]; !ok {
		return nil, model.Invalidf("unknown strategy %q (want one of %v)", name, Strategies())
	}
	st, err := s.resolve(name)
	if errors.Is(err, model.ErrBackendUnavailable) {
		s.logger.Debug("exact strategy requested but disabled; using centroid")
		return st, nil
	}
	return st, err
}
