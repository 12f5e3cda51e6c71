package dispatch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	// touch metrics so they are exported
	assignmentsTotal.WithLabelValues("auto", "assigned").Inc()
	selectionLatency.Observe(0.1)
	candidatesReturned.Observe(2)
	incidentsClosed.WithLabelValues("completed").Inc()
	statusChanges.WithLabelValues("busy").Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[*mf.Name] = true
	}
	expected := []string{
		"dispatch_assignments_total",
		"dispatch_selection_duration_seconds",
		"dispatch_candidates_returned",
		"dispatch_incidents_closed_total",
		"dispatch_vehicle_status_changes_total",
	}
	for _, n := range expected {
		if !names[n] {
			t.Errorf("metric %s not registered", n)
		}
	}
}
