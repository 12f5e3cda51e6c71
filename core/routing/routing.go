// Package routing defines the road-routing provider port. Provider failures
// never abort a dispatch: callers degrade to StraightLine.
package routing

import (
	"context"
	"errors"

	"github.com/kilianp07/emsdispatch/core/geo"
	"github.com/kilianp07/emsdispatch/core/model"
)

// ErrProvider wraps every failure reported by a routing provider.
var ErrProvider = errors.New("routing provider")

// Route is a road path between two points.
type Route struct {
	Waypoints       []model.Location
	DistanceKm      float64
	DurationMinutes float64
}

// Provider computes routes. Implementations must wrap failures in ErrProvider.
type Provider interface {
	Route(ctx context.Context, from, to model.Location) (Route, error)
}

// StraightLine builds the degraded two-waypoint route with a duration at the
// given speed.
func StraightLine(from, to model.Location, speedKmh float64) Route {
	d := geo.Distance(from, to)
	return Route{
		Waypoints:       []model.Location{from, to},
		DistanceKm:      d,
		DurationMinutes: geo.EstimateTravelTime(d, speedKmh),
	}
}

// None is a provider that always fails, for deployments without routing.
type None struct{}

func (None) Route(context.Context, model.Location, model.Location) (Route, error) {
	return Route{}, errors.Join(ErrProvider, errors.New("no routing provider configured"))
}

// RouteOrStraight asks p for a route and falls back to StraightLine on any
// error or on an empty result. The returned error is the provider failure,
// if any, for logging only.
func RouteOrStraight(ctx context.Context, p Provider, from, to model.Location, speedKmh float64) (Route, bool, error) {
	if p == nil {
		return StraightLine(from, to, speedKmh), false, nil
	}
	r, err := p.Route(ctx, from, to)
	if err != nil {
		return StraightLine(from, to, speedKmh), false, err
	}
	if len(r.Waypoints) < 2 {
		return StraightLine(from, to, speedKmh), false, errors.Join(ErrProvider, errors.New("route has fewer than two waypoints"))
	}
	return r, true, nil
}
