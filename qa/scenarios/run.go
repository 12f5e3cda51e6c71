package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/emsdispatch/core/dispatch"
	"github.com/kilianp07/emsdispatch/core/logger"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/store"
)

// Result lists the mismatches found while replaying a scenario.
type Result struct {
	Name     string
	Steps    int
	Failures []string
}

// Passed reports whether every check held.
func (r Result) Passed() bool { return len(r.Failures) == 0 }

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Run replays sc on a fresh in-memory store. Setup errors are returned;
// step mismatches are collected in the Result.
func Run(ctx context.Context, sc *Scenario, log logger.Logger) (Result, error) {
	res := Result{Name: sc.Name}
	mgr, err := dispatch.NewManager(dispatch.Config{}, store.NewMemoryStore(), nil, nil, nil, log)
	if err != nil {
		return res, err
	}
	for _, v := range sc.Vehicles {
		if _, err := mgr.RegisterVehicle(ctx, v.ToModel()); err != nil {
			return res, fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
	}
	for _, i := range sc.Incidents {
		if _, err := mgr.ReportIncident(ctx, i.ToModel()); err != nil {
			return res, fmt.Errorf("incident %s: %w", i.ID, err)
		}
	}

	for n, st := range sc.Steps {
		res.Steps++
		picked, err := apply(ctx, mgr, st)
		want := st.Expect
		if want == "" {
			want = ExpectOK
		}
		if got := outcome(err); got != want {
			res.failf("step %d (%s %s%s): expected %s, got %s (%v)", n+1, st.Action, st.Incident, st.Vehicle, want, got, err)
			continue
		}
		if st.ExpectVehicle != "" && picked != st.ExpectVehicle {
			res.failf("step %d: expected vehicle %s, got %q", n+1, st.ExpectVehicle, picked)
		}
	}

	for id, want := range sc.Expected.Statuses {
		v, err := mgr.Vehicle(ctx, id)
		if err != nil {
			res.failf("vehicle %s: %v", id, err)
			continue
		}
		if string(v.Status) != want {
			res.failf("vehicle %s: expected %s, got %s", id, want, v.Status)
		}
	}
	for id, want := range sc.Expected.Incidents {
		i, err := mgr.Incident(ctx, id)
		if err != nil {
			res.failf("incident %s: %v", id, err)
			continue
		}
		if string(i.Status) != want {
			res.failf("incident %s: expected %s, got %s", id, want, i.Status)
		}
	}
	return res, nil
}

func apply(ctx context.Context, mgr *dispatch.Manager, st StepDef) (string, error) {
	switch st.Action {
	case ActionAssign:
		a, err := mgr.AssignVehicle(ctx, st.Incident, st.Vehicle)
		return a.Vehicle.ID, err
	case ActionAutoAssign:
		a, err := mgr.AutoAssign(ctx, st.Incident)
		return a.Vehicle.ID, err
	case ActionComplete:
		_, err := mgr.CompleteIncident(ctx, st.Incident)
		return "", err
	case ActionCancel:
		_, err := mgr.CancelIncident(ctx, st.Incident)
		return "", err
	case ActionStatus:
		v, err := mgr.UpdateVehicleStatus(ctx, st.Vehicle, model.VehicleStatus(st.Status))
		return v.ID, err
	default:
		return "", fmt.Errorf("unknown action %q", st.Action)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return ExpectOK
	case errors.Is(err, dispatch.ErrNotFound):
		return ExpectNotFound
	case errors.Is(err, dispatch.ErrConflict):
		return ExpectConflict
	case errors.Is(err, dispatch.ErrNoCandidate):
		return ExpectNoCandidate
	case errors.Is(err, dispatch.ErrInvalidStatus), errors.Is(err, dispatch.ErrInvalidInput):
		return ExpectInvalid
	default:
		return "error"
	}
}
