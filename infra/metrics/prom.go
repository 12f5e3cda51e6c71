// Package metrics provides the metrics sink adapters: Prometheus, InfluxDB
// and the no-op sink, registered by name with the core sink factory.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
)

// PromSink records dispatch activity in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	distance    prometheus.Histogram
	positions   *prometheus.CounterVec
	statuses    *prometheus.CounterVec
	response    *prometheus.HistogramVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_assignments_total",
		Help: "Assignment attempts by outcome, severity and mode",
	}, []string{"outcome", "severity", "auto"})
	distance := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sink_assignment_distance_km",
		Help:    "Straight-line distance of committed assignments",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
	})
	positions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_positions_total",
		Help: "Accepted vehicle positions by source",
	}, []string{"source"})
	statuses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_vehicle_transitions_total",
		Help: "Vehicle status transitions",
	}, []string{"from", "to"})
	response := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sink_incident_elapsed_seconds",
		Help:    "Time from report to each incident transition",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"status"})

	var err error
	if assignments, err = register(reg, assignments); err != nil {
		return nil, err
	}
	if distance, err = register(reg, distance); err != nil {
		return nil, err
	}
	if positions, err = register(reg, positions); err != nil {
		return nil, err
	}
	if statuses, err = register(reg, statuses); err != nil {
		return nil, err
	}
	if response, err = register(reg, response); err != nil {
		return nil, err
	}
	return &PromSink{
		assignments: assignments,
		distance:    distance,
		positions:   positions,
		statuses:    statuses,
		response:    response,
	}, nil
}

// register adds c to reg, reusing an identical collector already there.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAssignment counts the attempt and observes the distance of successes.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	sev := string(ev.Severity)
	if sev == "" {
		sev = "unknown"
	}
	s.assignments.WithLabelValues(ev.Outcome, sev, strconv.FormatBool(ev.Auto)).Inc()
	if ev.Outcome == coremetrics.OutcomeAssigned && ev.DistanceKm > 0 {
		s.distance.Observe(ev.DistanceKm)
	}
	return nil
}

// RecordPosition counts accepted positions.
func (s *PromSink) RecordPosition(p model.PositionUpdate) error {
	src := p.Source
	if src == "" {
		src = "unknown"
	}
	s.positions.WithLabelValues(src).Inc()
	return nil
}

// RecordStatusChange counts vehicle transitions.
func (s *PromSink) RecordStatusChange(ev coremetrics.StatusChangeEvent) error {
	s.statuses.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

// RecordIncident observes the time elapsed since the incident was reported.
func (s *PromSink) RecordIncident(ev coremetrics.IncidentEvent) error {
	if ev.Elapsed > 0 {
		s.response.WithLabelValues(string(ev.Status)).Observe(ev.Elapsed.Seconds())
	}
	return nil
}
