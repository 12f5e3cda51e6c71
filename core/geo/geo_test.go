package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/emsdispatch/core/model"
)

func TestDistanceSymmetryAndIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		a := model.Location{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		b := model.Location{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
			t.Fatalf("asymmetric distance %v vs %v for %s %s", d1, d2, a, b)
		}
		if d := Distance(a, a); d != 0 {
			t.Fatalf("expected 0 for identical points got %v", d)
		}
	}
}

func TestDistanceKnownValues(t *testing.T) {
	incident := model.Location{Lat: 36.8065, Lng: 10.1815}
	far := model.Location{Lat: 36.82, Lng: 10.20}
	near := model.Location{Lat: 36.807, Lng: 10.182}

	assert.InDelta(t, 2.3, Distance(incident, far), 0.1)
	assert.InDelta(t, 0.07, Distance(incident, near), 0.01)
	// one degree of latitude
	assert.InDelta(t, 111.19, Distance(model.Location{}, model.Location{Lat: 1}), 0.01)
}

func TestDistanceAntipodal(t *testing.T) {
	d := Distance(model.Location{Lat: 0, Lng: 0}, model.Location{Lat: 0, Lng: 180})
	assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)
}

func TestEstimateTravelTime(t *testing.T) {
	cases := []struct {
		name     string
		distance float64
		speed    float64
		want     float64
	}{
		{"nominal", 10, 50, 12},
		{"zero distance", 0, 50, 0},
		{"default speed", 10, 0, 12},
		{"rounded", 1, 70, 0.9},
		{"negative distance", -3, 50, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := EstimateTravelTime(c.distance, c.speed); got != c.want {
				t.Fatalf("expected %v got %v", c.want, got)
			}
		})
	}
}

func TestPathLength(t *testing.T) {
	path := []model.Location{{Lat: 0}, {Lat: 1}, {Lat: 2}}
	assert.InDelta(t, 2*Distance(path[0], path[1]), PathLength(path), 1e-9)
	assert.Zero(t, PathLength(path[:1]))
}
