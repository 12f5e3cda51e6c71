package model

import "time"

// RoutePlan is the simulation input for one vehicle.
type RoutePlan struct {
	VehicleID   string
	Waypoints   []Location
	Cursor      float64
	SpeedFactor float64
}

// LastIndex returns the index of the final waypoint, or -1 for an empty route.
func (p RoutePlan) LastIndex() int { return len(p.Waypoints) - 1 }

// PositionUpdate is an accepted vehicle position, whatever its origin.
type PositionUpdate struct {
	VehicleID string
	Location  Location
	Timestamp time.Time
	Source    string // simulation, client, upstream
	// Cursor is the simulation cursor, nil for positions not produced by a
	// route playback.
	Cursor *float64
}
