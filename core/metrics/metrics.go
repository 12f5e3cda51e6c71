package metrics

import (
	"time"

	"github.com/kilianp07/emsdispatch/core/model"
)

// Assignment outcomes.
const (
	OutcomeAssigned    = "assigned"
	OutcomeConflict    = "conflict"
	OutcomeNoCandidate = "no_candidate"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
)

// AssignmentEvent describes one AssignVehicle or AutoAssign attempt.
type AssignmentEvent struct {
	IncidentID string
	VehicleID  string
	Severity   model.Severity
	Outcome    string
	Auto       bool
	// DistanceKm is the straight-line distance between vehicle and incident,
	// zero when unknown.
	DistanceKm float64
	Time       time.Time
}

// MetricsSink records dispatch decisions.
type MetricsSink interface {
	RecordAssignment(ev AssignmentEvent) error
}

// PositionRecorder records accepted vehicle positions.
type PositionRecorder interface {
	RecordPosition(p model.PositionUpdate) error
}

// StatusChangeEvent is a committed vehicle status transition.
type StatusChangeEvent struct {
	VehicleID string
	From      model.VehicleStatus
	To        model.VehicleStatus
	Time      time.Time
}

// StatusRecorder records vehicle status transitions.
type StatusRecorder interface {
	RecordStatusChange(ev StatusChangeEvent) error
}

// IncidentEvent is a committed incident status transition.
type IncidentEvent struct {
	IncidentID string
	VehicleID  string
	Status     model.IncidentStatus
	// Elapsed is the time spent since the incident was reported.
	Elapsed time.Duration
	Time    time.Time
}

// IncidentRecorder records incident transitions.
type IncidentRecorder interface {
	RecordIncident(ev IncidentEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error     { return nil }
func (NopSink) RecordPosition(model.PositionUpdate) error  { return nil }
func (NopSink) RecordStatusChange(StatusChangeEvent) error { return nil }
func (NopSink) RecordIncident(IncidentEvent) error         { return nil }
