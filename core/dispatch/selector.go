package dispatch

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/emsdispatch/core/geo"
	"github.com/kilianp07/emsdispatch/core/logger"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/routing"
)

// Query describes a nearest-vehicle search.
type Query struct {
	Location model.Location
	// Limit caps the result, the configured default applies when <= 0.
	Limit int
	// RadiusKm excludes vehicles farther away, the configured default
	// applies when <= 0.
	RadiusKm float64
}

// Selector ranks vehicles by straight-line distance to a target.
type Selector struct {
	cfg    Config
	routes routing.Provider
	log    logger.Logger
}

// NewSelector creates a selector. routes may be nil, which disables
// refinement.
func NewSelector(cfg Config, routes routing.Provider, log logger.Logger) *Selector {
	cfg.SetDefaults()
	return &Selector{cfg: cfg, routes: routes, log: logger.OrNop(log)}
}

// Rank returns the candidates among pool nearest to q.Location. Only
// available vehicles with a known location are considered. The ranking is
// by distance, ties broken by vehicle id. An empty pool yields an empty
// result.
func (s *Selector) Rank(ctx context.Context, q Query, pool []model.Vehicle) []model.Candidate {
	start := time.Now()
	defer func() { selectionLatency.Observe(time.Since(start).Seconds()) }()

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	radius := q.RadiusKm
	if radius <= 0 {
		radius = s.cfg.DefaultRadiusKm
	}

	type scored struct {
		v model.Vehicle
		d float64
	}
	ranked := make([]scored, 0, len(pool))
	for _, v := range pool {
		if !v.Dispatchable() || v.Location == nil {
			continue
		}
		d := geo.Distance(*v.Location, q.Location)
		if radius > 0 && d > radius {
			continue
		}
		ranked = append(ranked, scored{v: v, d: d})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].d != ranked[j].d {
			return ranked[i].d < ranked[j].d
		}
		return ranked[i].v.ID < ranked[j].v.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	res := make([]model.Candidate, len(ranked))
	for i, r := range ranked {
		res[i] = model.Candidate{
			VehicleID:            r.v.ID,
			StraightLineDistance: r.d,
			EstimatedMinutes:     geo.EstimateTravelTime(r.d, s.cfg.AssumedSpeedKmh),
			Rank:                 i + 1,
		}
	}
	if s.cfg.RefineTopK > 0 && s.routes != nil && len(res) > 0 {
		locs := make([]model.Location, len(ranked))
		for i, r := range ranked {
			locs[i] = *r.v.Location
		}
		s.refine(ctx, q.Location, res, locs)
	}
	candidatesReturned.Observe(float64(len(res)))
	return res
}

// refine replaces the minutes of the leading candidates with routed
// durations. Provider failures keep the straight-line estimate and the
// order is never changed.
func (s *Selector) refine(ctx context.Context, target model.Location, res []model.Candidate, from []model.Location) {
	k := min(s.cfg.RefineTopK, len(res))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < k; i++ {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, s.cfg.routeTimeout())
			defer cancel()
			r, err := s.routes.Route(rctx, from[i], target)
			if err != nil {
				s.log.Warnf("refine %s: %v", res[i].VehicleID, err)
				return nil
			}
			res[i].EstimatedMinutes = math.Round(r.DurationMinutes*10) / 10
			res[i].Refined = true
			return nil
		})
	}
	_ = g.Wait()
}
