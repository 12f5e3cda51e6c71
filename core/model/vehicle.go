package model

import (
	"fmt"
	"strings"
)

// VehicleStatus is the dispatch status of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable VehicleStatus = "available"
	VehicleEnRoute   VehicleStatus = "en-route"
	VehicleBusy      VehicleStatus = "busy"
	VehicleOffline   VehicleStatus = "offline"
)

// ParseVehicleStatus converts a wire value into a VehicleStatus.
func ParseVehicleStatus(s string) (VehicleStatus, error) {
	switch st := VehicleStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case VehicleAvailable, VehicleEnRoute, VehicleBusy, VehicleOffline:
		return st, nil
	default:
		return "", fmt.Errorf("unknown vehicle status %q", s)
	}
}

// Engaged reports whether the status is one of an incident-serving vehicle.
func (s VehicleStatus) Engaged() bool {
	return s == VehicleEnRoute || s == VehicleBusy
}

// Vehicle represents a dispatchable emergency-response unit.
type Vehicle struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Type     string        `json:"type,omitempty"` // ambulance, fire, police...
	Status   VehicleStatus `json:"status"`
	Location *Location     `json:"location,omitempty"`
	DriverID string        `json:"driverId,omitempty"`

	// AssignedIncident is set while the vehicle serves an open incident.
	AssignedIncident string `json:"assignedIncident,omitempty"`

	// ActiveRoute is the ordered list of waypoints the vehicle follows and
	// RouteCursor the playback position inside it. A vehicle en-route always
	// carries a route.
	ActiveRoute []Location `json:"activeRoute,omitempty"`
	RouteCursor float64    `json:"routeCursor,omitempty"`
}

// Validate checks the invariants of a vehicle record.
func (v Vehicle) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if _, err := ParseVehicleStatus(string(v.Status)); err != nil {
		return err
	}
	if v.Status == VehicleEnRoute && len(v.ActiveRoute) == 0 {
		return fmt.Errorf("vehicle %s is en-route without an active route", v.ID)
	}
	if v.Location != nil && !v.Location.Valid() {
		return fmt.Errorf("vehicle %s has invalid location %s", v.ID, v.Location)
	}
	return nil
}

// Dispatchable returns true if the vehicle can take a new incident.
func (v Vehicle) Dispatchable() bool {
	return v.Status == VehicleAvailable && v.AssignedIncident == ""
}

// Engaged returns true while the vehicle serves an incident.
func (v Vehicle) Engaged() bool { return v.Status.Engaged() }

// ClearAssignment drops the incident, route and cursor held by the vehicle.
func (v *Vehicle) ClearAssignment() {
	v.AssignedIncident = ""
	v.ActiveRoute = nil
	v.RouteCursor = 0
}
