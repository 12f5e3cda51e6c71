package store

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/emsdispatch/core/model"
)

func encodeRoute(route []model.Location) ([]byte, error) {
	if len(route) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("encode route: %w", err)
	}
	return b, nil
}

func decodeRoute(b []byte) ([]model.Location, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var route []model.Location
	if err := json.Unmarshal(b, &route); err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}
	if len(route) == 0 {
		return nil, nil
	}
	return route, nil
}
