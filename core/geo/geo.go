package geo

import (
	"math"

	"github.com/kilianp07/emsdispatch/core/model"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0
	// DefaultSpeedKmh is the assumed average speed when no routed estimate exists.
	DefaultSpeedKmh = 50.0
)

// Distance returns the great-circle distance in km between a and b using the
// Haversine formula.
func Distance(a, b model.Location) float64 {
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := lat2 - lat1
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h slightly above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// EstimateTravelTime returns the minutes needed to cover distanceKm at
// speedKmh, rounded to one decimal. A non-positive speed falls back to
// DefaultSpeedKmh.
func EstimateTravelTime(distanceKm, speedKmh float64) float64 {
	if distanceKm <= 0 {
		return 0
	}
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return round1(distanceKm / speedKmh * 60)
}

// PathLength sums the leg distances of an ordered waypoint list.
func PathLength(path []model.Location) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func round1(f float64) float64 { return math.Round(f*10) / 10 }
