package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

// InfluxSink writes dispatch activity and location history to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAssignment writes one assignment attempt.
func (s *InfluxSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	p := write.NewPointWithMeasurement("assignment").
		AddTag("incident_id", ev.IncidentID).
		AddTag("outcome", ev.Outcome).
		AddTag("auto", strconv.FormatBool(ev.Auto))
	if ev.VehicleID != "" {
		p = p.AddTag("vehicle_id", ev.VehicleID)
	}
	if ev.Severity != "" {
		p = p.AddTag("severity", string(ev.Severity))
	}
	p = p.AddField("distance_km", round3(ev.DistanceKm)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPosition appends a point to the vehicle location history.
func (s *InfluxSink) RecordPosition(u model.PositionUpdate) error {
	p := write.NewPointWithMeasurement("vehicle_position").
		AddTag("vehicle_id", u.VehicleID)
	if u.Source != "" {
		p = p.AddTag("source", u.Source)
	}
	p = p.AddField("lat", u.Location.Lat).
		AddField("lng", u.Location.Lng)
	if u.Cursor != nil {
		p = p.AddField("cursor", round3(*u.Cursor))
	}
	return s.write(p.SetTime(u.Timestamp))
}

// RecordStatusChange writes a vehicle status transition.
func (s *InfluxSink) RecordStatusChange(ev coremetrics.StatusChangeEvent) error {
	p := write.NewPointWithMeasurement("vehicle_status").
		AddTag("vehicle_id", ev.VehicleID).
		AddField("from", string(ev.From)).
		AddField("to", string(ev.To)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordIncident writes an incident transition.
func (s *InfluxSink) RecordIncident(ev coremetrics.IncidentEvent) error {
	p := write.NewPointWithMeasurement("incident").
		AddTag("incident_id", ev.IncidentID).
		AddTag("status", string(ev.Status))
	if ev.VehicleID != "" {
		p = p.AddTag("vehicle_id", ev.VehicleID)
	}
	p = p.AddField("elapsed_s", round3(ev.Elapsed.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client resources.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
