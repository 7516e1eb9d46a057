// Package query runs zonal statistics queries end to end: it resolves the
// raster handle, builds the regions, consults the result cache and packages
// ordered results with WGS84 geometries.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/zonalstats/internal/admission"
	"github.com/mohammed-shakir/zonalstats/internal/cache"
	"github.com/mohammed-shakir/zonalstats/internal/cache/keys"
	"github.com/mohammed-shakir/zonalstats/internal/core/model"
	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
	"github.com/mohammed-shakir/zonalstats/internal/raster"
	"github.com/mohammed-shakir/zonalstats/internal/raster/crs"
	"github.com/mohammed-shakir/zonalstats/internal/region"
	"github.com/mohammed-shakir/zonalstats/internal/registry"
	"github.com/mohammed-shakir/zonalstats/internal/zonal"
)

type Service struct {
	reg     *registry.Store
	builder *region.Builder
	sel     *zonal.Selector
	logger  *slog.Logger

	store     cache.Interface
	adm       admission.Interface
	ttl       time.Duration
	opTimeout time.Duration
	workers   int
}

type Option func(*Service)

// WithCache enables the result cache. ttl <= 0 stores entries without
// expiry; opTimeout bounds every cache round trip.
func WithCache(store cache.Interface, ttl, opTimeout time.Duration) Option {
	return func(s *Service) {
		s.store = store
		s.ttl = ttl
		s.opTimeout = opTimeout
	}
}

func WithAdmission(a admission.Interface) Option {
	return func(s *Service) {
		if a != nil {
			s.adm = a
		}
	}
}

// WithWorkers bounds how many regions of one query are computed at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func New(reg *registry.Store, builder *region.Builder, sel *zonal.Selector, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		reg:     reg,
		builder: builder,
		sel:     sel,
		logger:  logger,
		adm:     admission.Always{},
		workers: 4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Selector() *zonal.Selector { return s.sel }

// Run executes q. Regions that miss the raster are kept in place with
// outside=true and null statistics.
func (s *Service) Run(ctx context.Context, q model.QueryRequest) (model.QueryResponse, error) {
	start := time.Now()
	if !q.Kind.Valid() {
		return model.QueryResponse{}, model.Invalidf("unknown query kind %q", q.Kind)
	}
	h, release, err := s.reg.Acquire(q.RasterID, q.Version)
	if err != nil {
		return model.QueryResponse{}, err
	}
	defer release()
	ds := h.Dataset

	band := q.Band
	if band == 0 {
		band = 1
	}
	if band < 1 || band > ds.Bands {
		return model.QueryResponse{}, model.Invalidf("band %d out of range [1, %d]", band, ds.Bands)
	}
	names, dropped := zonal.Normalize(q.Stats)
	if len(dropped) > 0 {
		s.logger.Warn("ignoring unknown statistics", "stats", dropped, "raster_id", h.ID)
	}
	strat, err := s.sel.Pick(q.Strategy)
	if err != nil {
		return model.QueryResponse{}, err
	}
	regions, err := s.builder.Build(ds.Proj, q)
	if err != nil {
		return model.QueryResponse{}, err
	}

	touches := s.observe(q)
	results := make([]model.Result, len(regions))
	ks := make([]string, len(regions))
	for i, r := range regions {
		ks[i] = keys.Key(h.ID, h.Version, band, strat.Name(), r.Fingerprint, names)
		results[i] = packResult(ds.Proj, r)
	}

	missing := s.lookup(ctx, ks, results)
	if len(missing) > 0 {
		if err := s.compute(ctx, strat, ds, band, names, regions, missing, results); err != nil {
			return model.QueryResponse{}, err
		}
		s.fill(ctx, h.ID, touches, ks, missing, results)
	}

	for _, r := range results {
		outcome := "computed"
		switch {
		case r.Outside:
			outcome = "outside"
		case r.Cached:
			outcome = "cached"
		}
		observability.ObserveRegion(string(q.Kind), outcome)
	}
	s.logger.Info("query done",
		"raster_id", h.ID, "query", q.Kind, "strategy", strat.Name(),
		"regions", len(regions), "computed", len(missing),
		"dur", time.Since(start).String())

	return model.QueryResponse{
		RasterID: h.ID,
		Version:  h.Version,
		Query:    q.Kind,
		Exact:    strat.Exact(),
		Strategy: strat.Name(),
		Results:  results,
	}, nil
}

// observe records the query centres. Compare queries get one touch per
// point, in region order; the other kinds share the single centre.
func (s *Service) observe(q model.QueryRequest) []admission.Touch {
	if q.Kind != model.QueryCompare {
		return []admission.Touch{s.adm.Observe(q.Center.Lat, q.Center.Lon)}
	}
	out := make([]admission.Touch, len(q.Points))
	for i, p := range q.Points {
		out[i] = s.adm.Observe(p.Lat, p.Lon)
	}
	return out
}

func packResult(proj crs.Projection, r model.Region) model.Result {
	geom := crs.InversePolygon(proj, r.Geometry)
	return model.Result{
		Label:    r.Label,
		Geometry: geom,
		GeoJSON:  geojson.NewGeometry(geom),
		Point:    r.Point,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// lookup fills cached results in place and returns the indexes still to
// compute.
func (s *Service) lookup(ctx context.Context, ks []string, results []model.Result) []int {
	all := make([]int, len(ks))
	for i := range all {
		all[i] = i
	}
	if s.store == nil {
		return all
	}
	cctx, cancel := s.withTimeout(ctx)
	hits, err := s.store.MGet(cctx, ks)
	cancel()
	if err != nil {
		s.logger.Warn("cache mget error, computing all regions", "err", err)
		hits = nil
	}

	var missing []int
	for i, k := range ks {
		b, ok := hits[k]
		if !ok || len(b) == 0 {
			missing = append(missing, i)
			observability.IncCacheMiss()
			continue
		}
		e, err := cache.Decode(b)
		if err != nil {
			s.logger.Warn("dropping undecodable cache entry", "key", k, "err", err)
			missing = append(missing, i)
			observability.IncCacheMiss()
			continue
		}
		results[i].Stats = e.Stats
		results[i].Outside = e.Outside
		results[i].Cached = true
		observability.IncCacheHit()
	}
	return missing
}

func (s *Service) compute(ctx context.Context, strat zonal.Strategy, ds *raster.Dataset, band int, names []string,
	regions []model.Region, missing []int, results []model.Result,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, i := range missing {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := zonal.Compute(strat, ds, band, regions[i].Geometry, names)
			switch {
			case errors.Is(err, model.ErrRegionOutsideRaster):
				results[i].Stats = nullStats(names)
				results[i].Outside = true
			case err != nil:
				return fmt.Errorf("region %q: %w", regions[i].Label, err)
			default:
				results[i].Stats = st
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("compute regions: %w", err)
	}
	return nil
}

// fill stores freshly computed results whose centre admission allows.
func (s *Service) fill(ctx context.Context, rasterID string, touches []admission.Touch, ks []string, missing []int, results []model.Result) {
	if s.store == nil {
		return
	}
	for _, i := range missing {
		t := touches[0]
		if i < len(touches) {
			t = touches[i]
		}
		if !s.adm.ShouldCache(t) {
			observability.IncCacheSkip()
			continue
		}
		b, err := cache.Encode(cache.Entry{Stats: results[i].Stats, Outside: results[i].Outside})
		if err != nil {
			s.logger.Warn("cache encode", "err", err)
			continue
		}
		cctx, cancel := s.withTimeout(ctx)
		err = s.store.Set(cctx, rasterID, ks[i], b, s.ttl)
		cancel()
		if err != nil {
			s.logger.Warn("cache set failed", "key", ks[i], "err", err)
		}
	}
}

func nullStats(names []string) model.Stats {
	st := make(model.Stats, len(names))
	for _, n := range names {
		st[n] = nil
	}
	return st
}
