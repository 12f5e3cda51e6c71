package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	assignmentsTotal   *prometheus.CounterVec
	selectionLatency   prometheus.Histogram
	candidatesReturned prometheus.Histogram
	incidentsClosed    *prometheus.CounterVec
	statusChanges      *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Histogram, *prometheus.CounterVec, *prometheus.CounterVec) {
	asn := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Assignment attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_selection_duration_seconds",
			Help:    "Time spent ranking candidate vehicles",
			Buckets: prometheus.DefBuckets,
		},
	)
	cand := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_candidates_returned",
			Help:    "Number of candidates returned per selection",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)
	closed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_incidents_closed_total",
			Help: "Incidents moved to completed, by path",
		},
		[]string{"path"},
	)
	status := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_vehicle_status_changes_total",
			Help: "Committed vehicle status transitions by target status",
		},
		[]string{"status"},
	)
	return asn, lat, cand, closed, status
}

func init() {
	assignmentsTotal, selectionLatency, candidatesReturned, incidentsClosed, statusChanges = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(assignmentsTotal, selectionLatency, candidatesReturned, incidentsClosed, statusChanges)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	assignmentsTotal, selectionLatency, candidatesReturned, incidentsClosed, statusChanges = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
