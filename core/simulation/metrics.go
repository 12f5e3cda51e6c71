package simulation

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal  prometheus.Counter
	activePlans prometheus.Gauge
	runsStarted prometheus.Counter
)

func newCollectors() (prometheus.Counter, prometheus.Gauge, prometheus.Counter) {
	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_ticks_total",
		Help: "Simulation ticks processed",
	})
	plans := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_active_plans",
		Help: "Route plans held by the active run",
	})
	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_runs_started_total",
		Help: "Simulation runs started",
	})
	return ticks, plans, runs
}

func init() {
	ticksTotal, activePlans, runsStarted = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers simulation metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ticksTotal, activePlans, runsStarted)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ticksTotal, activePlans, runsStarted = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
