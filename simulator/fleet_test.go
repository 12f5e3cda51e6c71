package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/geo"
	"github.com/kilianp07/emsdispatch/core/model"
)

func TestGenerateFleetCount(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	center := model.Location{Lat: 48.85, Lng: 2.35}
	us := GenerateFleet(5, center, 3)
	if len(us) != 5 {
		t.Fatalf("expected 5 units, got %d", len(us))
	}
	if us[0].ID != "unit0001" || us[4].ID != "unit0005" {
		t.Fatalf("unexpected ids %s %s", us[0].ID, us[4].ID)
	}
	for _, u := range us {
		if d := geo.Distance(center, u.Location); d > 3.1 {
			t.Fatalf("%s placed %.2f km away", u.ID, d)
		}
	}
	if GenerateFleet(0, center, 3) != nil {
		t.Fatalf("expected empty fleet")
	}
}

func TestStepDistance(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(2))
	u := Unit{ID: "unit0001", Location: model.Location{Lat: 45.76, Lng: 4.83}}
	start := u.Location
	u.Step(0.5)
	d := geo.Distance(start, u.Location)
	if d < 0.45 || d > 0.55 {
		t.Fatalf("step moved %.3f km", d)
	}
}

func TestPositionFrame(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	p := Unit{ID: "unit0001", Location: model.Location{Lat: 1, Lng: 2}}.Position(at)
	if p.UnitID != "unit0001" || p.Lat != 1 || p.Lon != 2 || p.RecordedAt != 1700000000000 {
		t.Fatalf("unexpected position %+v", p)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Broker: "tcp://x:1883", Count: 1, Interval: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.DropRate = 2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected drop-rate error")
	}
}

func TestAckStrategies(t *testing.T) {
	var sent []events.Upstream
	pub := func(m events.Upstream) error {
		sent = append(sent, m)
		return nil
	}
	d := events.TrackingDispatch{CallID: "inc-1", UnitID: "unit0001", Kind: "assigned"}

	AutoAck{}.Ack(context.Background(), pub, d)
	if len(sent) != 1 {
		t.Fatalf("expected one ack, got %d", len(sent))
	}
	ack, ok := sent[0].(events.TrackingDispatch)
	if !ok || ack.Kind != KindAcknowledged || ack.CallID != "inc-1" {
		t.Fatalf("unexpected ack %+v", sent[0])
	}

	RandomAck{DropRate: 1}.Ack(context.Background(), pub, d)
	if len(sent) != 1 {
		t.Fatalf("expected drop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	AutoAck{Delay: time.Hour}.Ack(ctx, pub, d)
	if len(sent) != 1 {
		t.Fatalf("expected no ack after cancel")
	}
}
