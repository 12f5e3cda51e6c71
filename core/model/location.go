package model

import "fmt"

// Location is a WGS84 coordinate in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within the WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

func (l Location) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", l.Lat, l.Lng)
}
