package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/kilianp07/emsdispatch/core/model"
)

type stubProvider struct {
	route Route
	err   error
}

func (s stubProvider) Route(context.Context, model.Location, model.Location) (Route, error) {
	return s.route, s.err
}

func TestStraightLine(t *testing.T) {
	from := model.Location{Lat: 36.8065, Lng: 10.1815}
	to := model.Location{Lat: 36.82, Lng: 10.20}
	r := StraightLine(from, to, 50)
	if len(r.Waypoints) != 2 || r.Waypoints[0] != from || r.Waypoints[1] != to {
		t.Fatalf("unexpected waypoints %v", r.Waypoints)
	}
	if r.DistanceKm < 2.2 || r.DistanceKm > 2.4 {
		t.Fatalf("unexpected distance %f", r.DistanceKm)
	}
	if r.DurationMinutes != 2.7 && r.DurationMinutes != 2.8 {
		t.Fatalf("unexpected duration %f", r.DurationMinutes)
	}
}

func TestRouteOrStraightFallback(t *testing.T) {
	from := model.Location{Lat: 1, Lng: 1}
	to := model.Location{Lat: 1.01, Lng: 1}
	ctx := context.Background()

	r, routed, err := RouteOrStraight(ctx, None{}, from, to, 50)
	if routed || !errors.Is(err, ErrProvider) {
		t.Fatalf("expected fallback with provider error, got routed=%v err=%v", routed, err)
	}
	if len(r.Waypoints) != 2 {
		t.Fatalf("expected straight line")
	}

	_, routed, err = RouteOrStraight(ctx, stubProvider{route: Route{Waypoints: []model.Location{from}}}, from, to, 50)
	if routed || !errors.Is(err, ErrProvider) {
		t.Fatalf("short route must fall back")
	}

	want := Route{Waypoints: []model.Location{from, {Lat: 1.005, Lng: 1.001}, to}, DurationMinutes: 3}
	r, routed, err = RouteOrStraight(ctx, stubProvider{route: want}, from, to, 50)
	if err != nil || !routed || len(r.Waypoints) != 3 {
		t.Fatalf("expected provider route, got %v %v %v", r, routed, err)
	}

	r, routed, err = RouteOrStraight(ctx, nil, from, to, 50)
	if err != nil || routed || len(r.Waypoints) != 2 {
		t.Fatalf("nil provider should use straight line silently")
	}
}
