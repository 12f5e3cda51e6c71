package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordAssignment(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	ev := coremetrics.AssignmentEvent{IncidentID: "i1", VehicleID: "v1", Severity: model.SeverityCritical, Outcome: coremetrics.OutcomeAssigned, DistanceKm: 1.23456, Time: now}
	if err := sink.RecordAssignment(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("assignment").
		AddTag("incident_id", "i1").
		AddTag("outcome", "assigned").
		AddTag("auto", "false").
		AddTag("vehicle_id", "v1").
		AddTag("severity", "critical").
		AddField("distance_km", 1.235).
		SetTime(now)
	if len(rec.bodies) != 1 || rec.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_RecordPosition(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	cursor := 1.5
	if err := sink.RecordPosition(model.PositionUpdate{VehicleID: "v1", Location: model.Location{Lat: 48.1, Lng: 2.2}, Timestamp: now, Source: "simulation", Cursor: &cursor}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("vehicle_position").
		AddTag("vehicle_id", "v1").
		AddTag("source", "simulation").
		AddField("lat", 48.1).
		AddField("lng", 2.2).
		AddField("cursor", 1.5).
		SetTime(now)
	if len(rec.bodies) != 1 || rec.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_StatusAndIncident(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	if err := sink.RecordStatusChange(coremetrics.StatusChangeEvent{VehicleID: "v1", From: model.VehicleEnRoute, To: model.VehicleBusy, Time: now}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := sink.RecordIncident(coremetrics.IncidentEvent{IncidentID: "i1", VehicleID: "v1", Status: model.IncidentCompleted, Elapsed: 90 * time.Second, Time: now}); err != nil {
		t.Fatalf("incident: %v", err)
	}
	p1 := write.NewPointWithMeasurement("vehicle_status").
		AddTag("vehicle_id", "v1").
		AddField("from", "en-route").
		AddField("to", "busy").
		SetTime(now)
	p2 := write.NewPointWithMeasurement("incident").
		AddTag("incident_id", "i1").
		AddTag("status", "completed").
		AddTag("vehicle_id", "v1").
		AddField("elapsed_s", 90.0).
		SetTime(now)
	if len(rec.bodies) != 2 || rec.bodies[0] != line(p1) || rec.bodies[1] != line(p2) {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
