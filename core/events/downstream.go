package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/emsdispatch/core/model"
)

// Downstream event names.
const (
	NameLocationUpdated  = "vehicle.locationUpdated"
	NameStatusChanged    = "vehicle.statusChanged"
	NameIncidentAssigned = "incident.assigned"
	NameIncidentDispatch = "incident.dispatch"
	NameIncidentUpdated  = "incident.updated"
)

// Actions carried by incident events.
const (
	ActionAssigned = "assigned"
	ActionDispatch = "dispatch"
)

// Downstream is an event delivered to clients.
type Downstream interface {
	// Name is the wire event name.
	Name() string
	// Audience lists the rooms the event is delivered to. dispatcherRooms
	// are the role rooms of dispatcher roles.
	Audience(dispatcherRooms []string) []string
	// ToUpstream translates the event for the tracking service. ok is false
	// when the event is not forwarded upstream.
	ToUpstream() (u Upstream, ok bool)
}

// LocationUpdated reports a new vehicle position.
type LocationUpdated struct {
	VehicleID string         `json:"vehicleId"`
	Location  model.Location `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
}

func (LocationUpdated) Name() string { return NameLocationUpdated }

func (e LocationUpdated) Audience(dispatcherRooms []string) []string {
	return append([]string{VehicleRoom(e.VehicleID)}, dispatcherRooms...)
}

func (e LocationUpdated) ToUpstream() (Upstream, bool) {
	return TrackingPosition{
		UnitID:     e.VehicleID,
		Lat:        e.Location.Lat,
		Lon:        e.Location.Lng,
		RecordedAt: unixMilli(e.Timestamp),
	}, true
}

// StatusChanged reports a committed vehicle status transition.
type StatusChanged struct {
	VehicleID string              `json:"vehicleId"`
	Status    model.VehicleStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

func (StatusChanged) Name() string { return NameStatusChanged }

func (StatusChanged) Audience(dispatcherRooms []string) []string {
	return append([]string(nil), dispatcherRooms...)
}

func (StatusChanged) ToUpstream() (Upstream, bool) { return nil, false }

// IncidentAssigned reports a committed assignment.
type IncidentAssigned struct {
	IncidentID string    `json:"incidentId"`
	VehicleID  string    `json:"vehicleId"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

func (IncidentAssigned) Name() string { return NameIncidentAssigned }

func (e IncidentAssigned) Audience(dispatcherRooms []string) []string {
	return append([]string{IncidentRoom(e.IncidentID), VehicleRoom(e.VehicleID)}, dispatcherRooms...)
}

// ToUpstream keeps assignments local; the tracking service learns about
// them from the dispatch instruction sent to the unit.
func (IncidentAssigned) ToUpstream() (Upstream, bool) { return nil, false }

// IncidentDispatch is a dispatch instruction relayed between a dispatcher
// and a unit.
type IncidentDispatch struct {
	IncidentID string    `json:"incidentId"`
	VehicleID  string    `json:"vehicleId"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

func (IncidentDispatch) Name() string { return NameIncidentDispatch }

func (e IncidentDispatch) Audience(dispatcherRooms []string) []string {
	return append([]string{IncidentRoom(e.IncidentID), VehicleRoom(e.VehicleID)}, dispatcherRooms...)
}

func (e IncidentDispatch) ToUpstream() (Upstream, bool) {
	return TrackingDispatch{
		CallID: e.IncidentID,
		UnitID: e.VehicleID,
		Kind:   e.Action,
		At:     unixMilli(e.Timestamp),
	}, true
}

// IncidentUpdated reports changed incident fields.
type IncidentUpdated struct {
	IncidentID string         `json:"incidentId"`
	Updates    map[string]any `json:"updates"`
}

func (IncidentUpdated) Name() string { return NameIncidentUpdated }

func (IncidentUpdated) Audience(dispatcherRooms []string) []string {
	return append([]string(nil), dispatcherRooms...)
}

func (IncidentUpdated) ToUpstream() (Upstream, bool) { return nil, false }

// Frame is the downstream wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeDownstream renders ev as a wire frame.
func EncodeDownstream(ev Downstream) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Frame{Event: ev.Name(), Data: data})
}

// DecodeDownstream parses a wire frame back into its variant.
func DecodeDownstream(raw []byte) (Downstream, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var ev Downstream
	switch f.Event {
	case NameLocationUpdated:
		ev = &LocationUpdated{}
	case NameStatusChanged:
		ev = &StatusChanged{}
	case NameIncidentAssigned:
		ev = &IncidentAssigned{}
	case NameIncidentDispatch:
		ev = &IncidentDispatch{}
	case NameIncidentUpdated:
		ev = &IncidentUpdated{}
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
	if err := json.Unmarshal(f.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return deref(ev), nil
}

func deref(ev Downstream) Downstream {
	switch e := ev.(type) {
	case *LocationUpdated:
		return *e
	case *StatusChanged:
		return *e
	case *IncidentAssigned:
		return *e
	case *IncidentDispatch:
		return *e
	case *IncidentUpdated:
		return *e
	}
	return ev
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
