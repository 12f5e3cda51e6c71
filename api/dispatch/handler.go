// Package dispatch exposes the incident lifecycle over HTTP.
package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/kilianp07/emsdispatch/api/respond"
	coredispatch "github.com/kilianp07/emsdispatch/core/dispatch"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/store"
)

// Service is the part of the dispatch manager used by the handlers.
type Service interface {
	ReportIncident(ctx context.Context, inc model.Incident) (model.Incident, error)
	Incident(ctx context.Context, id string) (model.Incident, error)
	Incidents(ctx context.Context, f store.IncidentFilter) ([]model.Incident, error)
	AssignVehicle(ctx context.Context, incidentID, vehicleID string) (coredispatch.Assignment, error)
	AutoAssign(ctx context.Context, incidentID string) (coredispatch.Assignment, error)
	CompleteIncident(ctx context.Context, incidentID string) (coredispatch.Completion, error)
	CancelIncident(ctx context.Context, incidentID string) (coredispatch.Completion, error)
}

type reportRequest struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Location model.Location `json:"location"`
	Severity string         `json:"severity"`
}

type assignRequest struct {
	VehicleID string `json:"vehicleId"`
}

// Register mounts the incident routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.HandleFunc("POST /api/incidents", func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if err := respond.Decode(w, r, &req); err != nil {
			respond.BadRequest(w, "invalid body: "+err.Error())
			return
		}
		inc, err := svc.ReportIncident(r.Context(), model.Incident{
			ID:       req.ID,
			Title:    req.Title,
			Location: req.Location,
			Severity: model.Severity(strings.ToLower(req.Severity)),
		})
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusCreated, inc)
	})

	mux.HandleFunc("GET /api/incidents", func(w http.ResponseWriter, r *http.Request) {
		var f store.IncidentFilter
		for _, s := range splitList(r.URL.Query().Get("status")) {
			f.Statuses = append(f.Statuses, model.IncidentStatus(s))
		}
		list, err := svc.Incidents(r.Context(), f)
		if err != nil {
			respond.Error(w, err)
			return
		}
		if list == nil {
			list = []model.Incident{}
		}
		respond.JSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/incidents/{id}", func(w http.ResponseWriter, r *http.Request) {
		inc, err := svc.Incident(r.Context(), r.PathValue("id"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, inc)
	})

	mux.HandleFunc("POST /api/incidents/{id}/assign", func(w http.ResponseWriter, r *http.Request) {
		var req assignRequest
		if err := respond.Decode(w, r, &req); err != nil {
			respond.BadRequest(w, "invalid body: "+err.Error())
			return
		}
		if req.VehicleID == "" {
			respond.BadRequest(w, "vehicleId is required")
			return
		}
		res, err := svc.AssignVehicle(r.Context(), r.PathValue("id"), req.VehicleID)
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /api/incidents/{id}/auto-assign", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.AutoAssign(r.Context(), r.PathValue("id"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /api/incidents/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.CompleteIncident(r.Context(), r.PathValue("id"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /api/incidents/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.CancelIncident(r.Context(), r.PathValue("id"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, res)
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
