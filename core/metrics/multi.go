package metrics

import (
	"errors"

	"github.com/kilianp07/emsdispatch/core/model"
)

// MultiSink fans records out to several sinks. Every sink is called even
// when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordAssignment(ev AssignmentEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPosition forwards to sinks implementing PositionRecorder.
func (m *MultiSink) RecordPosition(p model.PositionUpdate) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(PositionRecorder); ok {
			if err := rec.RecordPosition(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordStatusChange forwards to sinks implementing StatusRecorder.
func (m *MultiSink) RecordStatusChange(ev StatusChangeEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(StatusRecorder); ok {
			if err := rec.RecordStatusChange(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordIncident forwards to sinks implementing IncidentRecorder.
func (m *MultiSink) RecordIncident(ev IncidentEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(IncidentRecorder); ok {
			if err := rec.RecordIncident(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases the sinks that hold resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
