package store

import (
	"context"
	"errors"
	"testing"

	"github.com/kilianp07/emsdispatch/core/model"
)

func TestMemoryStoreVehicles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	loc := model.Location{Lat: 1, Lng: 2}
	for _, v := range []model.Vehicle{
		{ID: "v2", Status: model.VehicleBusy},
		{ID: "v1", Status: model.VehicleAvailable, Location: &loc},
		{ID: "v3", Status: model.VehicleOffline},
	} {
		if err := s.SaveVehicle(ctx, v); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	all, err := s.ListVehicles(ctx, VehicleFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "v1" || all[2].ID != "v3" {
		t.Fatalf("unexpected list %#v", all)
	}
	avail, _ := s.ListVehicles(ctx, VehicleFilter{Statuses: []model.VehicleStatus{model.VehicleAvailable, model.VehicleBusy}})
	if len(avail) != 2 {
		t.Fatalf("expected 2 got %d", len(avail))
	}

	got, err := s.GetVehicle(ctx, "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Location.Lat = 50
	again, _ := s.GetVehicle(ctx, "v1")
	if again.Location.Lat != 1 {
		t.Fatalf("store leaked internal pointer")
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetVehicle(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := s.GetIncident(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestMemoryStoreIncidents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveIncident(ctx, model.Incident{ID: "i1", Status: model.IncidentPending})
	_ = s.SaveIncident(ctx, model.Incident{ID: "i2", Status: model.IncidentCompleted})
	open, err := s.ListIncidents(ctx, IncidentFilter{Statuses: []model.IncidentStatus{model.IncidentPending}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != "i1" {
		t.Fatalf("unexpected incidents %#v", open)
	}
	if err := s.SaveIncident(ctx, model.Incident{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
