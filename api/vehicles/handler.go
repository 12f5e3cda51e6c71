// Package vehicles exposes the fleet over HTTP.
package vehicles

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/kilianp07/emsdispatch/api/respond"
	"github.com/kilianp07/emsdispatch/core/dispatch"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/store"
)

// Service is the part of the dispatch manager used by the handlers.
type Service interface {
	RegisterVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	Vehicle(ctx context.Context, id string) (model.Vehicle, error)
	Vehicles(ctx context.Context, f store.VehicleFilter) ([]model.Vehicle, error)
	UpdateVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) (model.Vehicle, error)
	Nearest(ctx context.Context, q dispatch.Query) ([]model.Candidate, error)
}

type registerRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Location *model.Location `json:"location"`
	DriverID string          `json:"driverId"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// Register mounts the vehicle routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.HandleFunc("POST /api/vehicles", func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := respond.Decode(w, r, &req); err != nil {
			respond.BadRequest(w, "invalid body: "+err.Error())
			return
		}
		v, err := svc.RegisterVehicle(r.Context(), model.Vehicle{
			ID:       req.ID,
			Name:     req.Name,
			Type:     req.Type,
			Status:   model.VehicleStatus(strings.ToLower(req.Status)),
			Location: req.Location,
			DriverID: req.DriverID,
		})
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusCreated, v)
	})

	mux.HandleFunc("GET /api/vehicles", func(w http.ResponseWriter, r *http.Request) {
		var f store.VehicleFilter
		for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			st, err := model.ParseVehicleStatus(s)
			if err != nil {
				respond.BadRequest(w, err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
		list, err := svc.Vehicles(r.Context(), f)
		if err != nil {
			respond.Error(w, err)
			return
		}
		if list == nil {
			list = []model.Vehicle{}
		}
		respond.JSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/vehicles/nearest", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			respond.BadRequest(w, err.Error())
			return
		}
		cands, err := svc.Nearest(r.Context(), q)
		if err != nil {
			respond.Error(w, err)
			return
		}
		if cands == nil {
			cands = []model.Candidate{}
		}
		respond.JSON(w, http.StatusOK, cands)
	})

	mux.HandleFunc("GET /api/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Vehicle(r.Context(), r.PathValue("id"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("PUT /api/vehicles/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := respond.Decode(w, r, &req); err != nil {
			respond.BadRequest(w, "invalid body: "+err.Error())
			return
		}
		v, err := svc.UpdateVehicleStatus(r.Context(), r.PathValue("id"), model.VehicleStatus(req.Status))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, v)
	})
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseQuery(r *http.Request) (dispatch.Query, error) {
	v := r.URL.Query()
	lat, err := strconv.ParseFloat(v.Get("lat"), 64)
	if err != nil {
		return dispatch.Query{}, queryError("lat must be a number")
	}
	lng, err := strconv.ParseFloat(v.Get("lng"), 64)
	if err != nil {
		return dispatch.Query{}, queryError("lng must be a number")
	}
	q := dispatch.Query{Location: model.Location{Lat: lat, Lng: lng}}
	if !q.Location.Valid() {
		return dispatch.Query{}, queryError("location out of range")
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return dispatch.Query{}, queryError("limit must be a positive integer")
		}
	}
	if s := v.Get("radius"); s != "" {
		if q.RadiusKm, err = strconv.ParseFloat(s, 64); err != nil || q.RadiusKm < 0 {
			return dispatch.Query{}, queryError("radius must be a positive number")
		}
	}
	return q, nil
}
