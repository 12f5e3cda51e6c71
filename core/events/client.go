package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/emsdispatch/core/model"
)

// Client message types.
const (
	ClientJoin           = "join"
	ClientLeave          = "leave"
	ClientLocationUpdate = "locationUpdate"
	ClientDispatch       = "dispatch"
)

// ClientCommand is a message received from a downstream client.
type ClientCommand interface {
	clientCommand()
}

// JoinRoom subscribes the client to a room.
type JoinRoom struct{ Room string }

// LeaveRoom unsubscribes the client from a room.
type LeaveRoom struct{ Room string }

// SubmitLocation is a position reported by a client, usually a driver app.
type SubmitLocation struct {
	VehicleID string         `json:"vehicleId"`
	Location  model.Location `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
}

// SubmitDispatch is a dispatch instruction issued by a client.
type SubmitDispatch struct {
	IncidentID string `json:"incidentId"`
	VehicleID  string `json:"vehicleId"`
	Action     string `json:"action"`
}

func (JoinRoom) clientCommand()       {}
func (LeaveRoom) clientCommand()      {}
func (SubmitLocation) clientCommand() {}
func (SubmitDispatch) clientCommand() {}

// Event converts the submission into the downstream event it produces.
func (s SubmitLocation) Event(now time.Time) LocationUpdated {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return LocationUpdated{VehicleID: s.VehicleID, Location: s.Location, Timestamp: ts}
}

// Event converts the submission into the downstream event it produces.
func (s SubmitDispatch) Event(now time.Time) IncidentDispatch {
	action := s.Action
	if action == "" {
		action = ActionDispatch
	}
	return IncidentDispatch{IncidentID: s.IncidentID, VehicleID: s.VehicleID, Action: action, Timestamp: now}
}

type clientEnvelope struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeClient parses and validates a client message.
func DecodeClient(raw []byte) (ClientCommand, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	switch env.Type {
	case ClientJoin, ClientLeave:
		if !ValidRoom(env.Room) {
			return nil, fmt.Errorf("%s: invalid room %q", env.Type, env.Room)
		}
		if env.Type == ClientJoin {
			return JoinRoom{Room: env.Room}, nil
		}
		return LeaveRoom{Room: env.Room}, nil
	case ClientLocationUpdate:
		var s SubmitLocation
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if s.VehicleID == "" || !s.Location.Valid() {
			return nil, fmt.Errorf("%s: vehicleId and a valid location are required", env.Type)
		}
		return s, nil
	case ClientDispatch:
		var s SubmitDispatch
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if s.IncidentID == "" || s.VehicleID == "" {
			return nil, fmt.Errorf("%s: incidentId and vehicleId are required", env.Type)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown client message type %q", env.Type)
	}
}
