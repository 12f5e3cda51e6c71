// Package store defines the persistence port used by the dispatch core.
// The core never knows the storage engine behind it.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/emsdispatch/core/model"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("not found")

// VehicleFilter restricts ListVehicles. Zero value matches everything.
type VehicleFilter struct {
	Statuses []model.VehicleStatus
}

// Match reports whether v passes the filter.
func (f VehicleFilter) Match(v model.Vehicle) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if v.Status == s {
			return true
		}
	}
	return false
}

// IncidentFilter restricts ListIncidents. Zero value matches everything.
type IncidentFilter struct {
	Statuses []model.IncidentStatus
}

// Match reports whether i passes the filter.
func (f IncidentFilter) Match(i model.Incident) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if i.Status == s {
			return true
		}
	}
	return false
}

// VehicleStore reads and writes vehicle records.
type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error)
	SaveVehicle(ctx context.Context, v model.Vehicle) error
}

// IncidentStore reads and writes incident records.
type IncidentStore interface {
	GetIncident(ctx context.Context, id string) (model.Incident, error)
	ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error)
	SaveIncident(ctx context.Context, i model.Incident) error
}

// Store groups both record types behind one handle.
type Store interface {
	VehicleStore
	IncidentStore
	Close() error
}
