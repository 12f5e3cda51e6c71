package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/model"
)

const kmPerDegreeLat = 111.32

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Unit is a simulated tracked vehicle wandering around a center point.
type Unit struct {
	ID       string
	Location model.Location
}

// GenerateFleet creates size units with IDs unit0001..unitNNNN scattered
// uniformly within spreadKm of center.
func GenerateFleet(size int, center model.Location, spreadKm float64) []Unit {
	if size <= 0 {
		return nil
	}
	us := make([]Unit, size)
	for i := range us {
		us[i] = Unit{
			ID:       fmt.Sprintf("unit%04d", i+1),
			Location: offset(center, spreadKm*math.Sqrt(fleetRng.Float64()), fleetRng.Float64()*2*math.Pi),
		}
	}
	return us
}

// Step moves the unit stepKm in a random direction.
func (u *Unit) Step(stepKm float64) {
	u.Location = offset(u.Location, stepKm, fleetRng.Float64()*2*math.Pi)
}

// Position renders the unit in the tracking service vocabulary.
func (u Unit) Position(at time.Time) events.TrackingPosition {
	return events.TrackingPosition{
		UnitID:     u.ID,
		Lat:        u.Location.Lat,
		Lon:        u.Location.Lng,
		RecordedAt: at.UnixMilli(),
	}
}

// offset moves from by km along bearing using a flat approximation, which
// holds for the few kilometres a city fleet covers.
func offset(from model.Location, km, bearing float64) model.Location {
	dLat := km * math.Cos(bearing) / kmPerDegreeLat
	dLng := km * math.Sin(bearing) / (kmPerDegreeLat * math.Cos(from.Lat*math.Pi/180))
	lat := math.Max(-90, math.Min(90, from.Lat+dLat))
	lng := from.Lng + dLng
	if lng > 180 {
		lng -= 360
	} else if lng < -180 {
		lng += 360
	}
	return model.Location{Lat: lat, Lng: lng}
}
