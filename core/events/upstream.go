package events

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/emsdispatch/core/model"
)

// Upstream message types.
const (
	TypeTrackingPosition = "tracking.position"
	TypeTrackingDispatch = "tracking.dispatch"
)

// Upstream is a message exchanged with the tracking service.
type Upstream interface {
	// Type is the wire message type.
	Type() string
	// ToDownstream translates the message for client fan-out.
	ToDownstream() Downstream
}

// TrackingPosition is a unit position in the tracking service vocabulary.
type TrackingPosition struct {
	UnitID     string  `json:"unit_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	RecordedAt int64   `json:"recorded_at"` // unix ms
}

func (TrackingPosition) Type() string { return TypeTrackingPosition }

func (m TrackingPosition) ToDownstream() Downstream {
	return LocationUpdated{
		VehicleID: m.UnitID,
		Location:  model.Location{Lat: m.Lat, Lng: m.Lon},
		Timestamp: fromUnixMilli(m.RecordedAt),
	}
}

// TrackingDispatch is a dispatch instruction in the tracking service
// vocabulary.
type TrackingDispatch struct {
	CallID string `json:"call_id"`
	UnitID string `json:"unit_id"`
	Kind   string `json:"kind"`
	At     int64  `json:"at"` // unix ms
}

func (TrackingDispatch) Type() string { return TypeTrackingDispatch }

func (m TrackingDispatch) ToDownstream() Downstream {
	action := m.Kind
	if action == "" {
		action = ActionDispatch
	}
	return IncidentDispatch{
		IncidentID: m.CallID,
		VehicleID:  m.UnitID,
		Action:     action,
		Timestamp:  fromUnixMilli(m.At),
	}
}

type upstreamEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeUpstream renders m as a wire message.
func EncodeUpstream(m Upstream) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(upstreamEnvelope{Type: m.Type(), Data: data})
}

// DecodeUpstream parses a wire message from the tracking service.
func DecodeUpstream(raw []byte) (Upstream, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode upstream: %w", err)
	}
	switch env.Type {
	case TypeTrackingPosition:
		var m TrackingPosition
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if m.UnitID == "" {
			return nil, fmt.Errorf("%s: unit_id is required", env.Type)
		}
		return m, nil
	case TypeTrackingDispatch:
		var m TrackingDispatch
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if m.CallID == "" || m.UnitID == "" {
			return nil, fmt.Errorf("%s: call_id and unit_id are required", env.Type)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown upstream type %q", env.Type)
	}
}
