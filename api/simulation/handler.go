// Package simulation exposes route playback control over HTTP.
package simulation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kilianp07/emsdispatch/api/respond"
	"github.com/kilianp07/emsdispatch/core/model"
	coresim "github.com/kilianp07/emsdispatch/core/simulation"
)

// PlanSource builds plans from the live fleet.
type PlanSource interface {
	SimulationPlans(ctx context.Context) ([]model.RoutePlan, error)
}

// Controller drives the simulator.
type Controller interface {
	StartWith(plans []model.RoutePlan, speedFactor float64, interval time.Duration) *coresim.Run
	Stop() bool
	Active() *coresim.Run
}

type planRequest struct {
	VehicleID   string           `json:"vehicleId"`
	Waypoints   []model.Location `json:"waypoints"`
	Cursor      float64          `json:"cursor"`
	SpeedFactor float64          `json:"speedFactor"`
}

type startRequest struct {
	SpeedFactor float64 `json:"speedFactor"`
	IntervalMs  int     `json:"intervalMs"`
	// Plans replaces the plans built from en-route vehicles when set.
	Plans []planRequest `json:"plans"`
}

type runView struct {
	Active      bool      `json:"active"`
	RunID       string    `json:"runId,omitempty"`
	Vehicles    []string  `json:"vehicles,omitempty"`
	SpeedFactor float64   `json:"speedFactor,omitempty"`
	IntervalMs  int64     `json:"intervalMs,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	Ticks       int       `json:"ticks"`
}

func view(r *coresim.Run) runView {
	if r == nil {
		return runView{}
	}
	v := runView{
		Active:      true,
		RunID:       r.ID,
		SpeedFactor: r.SpeedFactor,
		IntervalMs:  r.Interval.Milliseconds(),
		StartedAt:   r.StartedAt,
		Ticks:       r.Ticks(),
	}
	for _, p := range r.Plans() {
		v.Vehicles = append(v.Vehicles, p.VehicleID)
	}
	return v
}

// Register mounts the simulation routes on mux.
func Register(mux *http.ServeMux, src PlanSource, sim Controller) {
	mux.HandleFunc("POST /api/simulation/start", func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := respond.Decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			respond.BadRequest(w, "invalid body: "+err.Error())
			return
		}
		if req.SpeedFactor < 0 || req.IntervalMs < 0 {
			respond.BadRequest(w, "speedFactor and intervalMs must not be negative")
			return
		}
		var plans []model.RoutePlan
		if len(req.Plans) > 0 {
			for _, p := range req.Plans {
				if p.VehicleID == "" || len(p.Waypoints) == 0 {
					respond.BadRequest(w, "each plan needs a vehicleId and waypoints")
					return
				}
				plans = append(plans, model.RoutePlan{
					VehicleID:   p.VehicleID,
					Waypoints:   p.Waypoints,
					Cursor:      p.Cursor,
					SpeedFactor: p.SpeedFactor,
				})
			}
		} else {
			var err error
			if plans, err = src.SimulationPlans(r.Context()); err != nil {
				respond.Error(w, err)
				return
			}
		}
		run := sim.StartWith(plans, req.SpeedFactor, time.Duration(req.IntervalMs)*time.Millisecond)
		respond.JSON(w, http.StatusOK, view(run))
	})

	mux.HandleFunc("POST /api/simulation/stop", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]bool{"stopped": sim.Stop()})
	})

	mux.HandleFunc("GET /api/simulation", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, view(sim.Active()))
	})
}
