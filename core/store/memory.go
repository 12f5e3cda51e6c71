package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/kilianp07/emsdispatch/core/model"
)

// MemoryStore keeps records in process memory. Returned records are copies.
type MemoryStore struct {
	mu        sync.RWMutex
	vehicles  map[string]model.Vehicle
	incidents map[string]model.Incident
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:  map[string]model.Vehicle{},
		incidents: map[string]model.Incident{},
	}
}

func (s *MemoryStore) GetVehicle(_ context.Context, id string) (model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return cloneVehicle(v), nil
}

func (s *MemoryStore) ListVehicles(_ context.Context, f VehicleFilter) ([]model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		if f.Match(v) {
			res = append(res, cloneVehicle(v))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) SaveVehicle(_ context.Context, v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	s.mu.Lock()
	s.vehicles[v.ID] = cloneVehicle(v)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.incidents[id]
	if !ok {
		return model.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return i, nil
}

func (s *MemoryStore) ListIncidents(_ context.Context, f IncidentFilter) ([]model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Incident, 0, len(s.incidents))
	for _, i := range s.incidents {
		if f.Match(i) {
			res = append(res, i)
		}
	}
	sort.Slice(res, func(a, b int) bool { return res[a].ID < res[b].ID })
	return res, nil
}

func (s *MemoryStore) SaveIncident(_ context.Context, i model.Incident) error {
	if i.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	s.mu.Lock()
	s.incidents[i.ID] = i
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneVehicle(v model.Vehicle) model.Vehicle {
	if v.Location != nil {
		loc := *v.Location
		v.Location = &loc
	}
	v.ActiveRoute = slices.Clone(v.ActiveRoute)
	return v
}
