package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/routing"
	"github.com/kilianp07/emsdispatch/core/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Downstream
}

func (p *recordingPublisher) Publish(ev events.Downstream) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Name()
	}
	return out
}

type recordingSink struct {
	mu          sync.Mutex
	assignments []metrics.AssignmentEvent
	statuses    []metrics.StatusChangeEvent
	incidents   []metrics.IncidentEvent
}

func (s *recordingSink) RecordAssignment(ev metrics.AssignmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, ev)
	return nil
}

func (s *recordingSink) RecordStatusChange(ev metrics.StatusChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, ev)
	return nil
}

func (s *recordingSink) RecordIncident(ev metrics.IncidentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, ev)
	return nil
}

// flakyStore fails vehicle writes on demand.
type flakyStore struct {
	*store.MemoryStore
	failVehicle atomic.Bool
}

func (f *flakyStore) SaveVehicle(ctx context.Context, v model.Vehicle) error {
	if f.failVehicle.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.SaveVehicle(ctx, v)
}

type fixture struct {
	m    *Manager
	st   *store.MemoryStore
	pub  *recordingPublisher
	sink *recordingSink
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, routes routing.Provider) fixture {
	t.Helper()
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	sink := &recordingSink{}
	m, err := NewManager(Config{}, st, pub, routes, sink, nil)
	require.NoError(t, err)
	m.now = func() time.Time { return fixedNow }
	return fixture{m: m, st: st, pub: pub, sink: sink}
}

func (f fixture) vehicle(t *testing.T, v model.Vehicle) {
	t.Helper()
	require.NoError(t, f.st.SaveVehicle(context.Background(), v))
}

func (f fixture) incident(t *testing.T, id string, l model.Location) {
	t.Helper()
	require.NoError(t, f.st.SaveIncident(context.Background(), model.Incident{
		ID: id, Location: l, Severity: model.SeverityHigh, Status: model.IncidentPending, ReportedAt: fixedNow.Add(-time.Minute),
	}))
}

func TestAutoAssignPicksNearest(t *testing.T) {
	f := newFixture(t, nil)
	f.vehicle(t, avail("far", loc(36.82, 10.20)))
	f.vehicle(t, avail("near", loc(36.807, 10.182)))
	f.incident(t, "I1", incidentSite)

	res, err := f.m.AutoAssign(context.Background(), "I1")
	require.NoError(t, err)
	assert.Equal(t, "near", res.Vehicle.ID)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, 1, res.Candidate.Rank)

	inc, _ := f.m.Incident(context.Background(), "I1")
	veh, _ := f.m.Vehicle(context.Background(), "near")
	assert.Equal(t, model.IncidentAssigned, inc.Status)
	assert.Equal(t, "near", inc.AssignedVehicle)
	assert.Equal(t, fixedNow, *inc.AssignedAt)
	assert.Equal(t, model.VehicleEnRoute, veh.Status)
	assert.Equal(t, "I1", veh.AssignedIncident)
	assert.Equal(t, []model.Location{{Lat: 36.807, Lng: 10.182}, incidentSite}, veh.ActiveRoute)
	assert.NoError(t, veh.Validate())
	assert.False(t, res.Routed)

	far, _ := f.m.Vehicle(context.Background(), "far")
	assert.Equal(t, model.VehicleAvailable, far.Status)

	assert.Equal(t, []string{events.NameIncidentAssigned, events.NameStatusChanged}, f.pub.names())
	require.Len(t, f.sink.assignments, 1)
	assert.True(t, f.sink.assignments[0].Auto)
	assert.Equal(t, metrics.OutcomeAssigned, f.sink.assignments[0].Outcome)
	assert.Equal(t, float64(1), testutil.ToFloat64(assignmentsTotal.WithLabelValues("auto", metrics.OutcomeAssigned)))
}

func TestAutoAssignNoCandidate(t *testing.T) {
	f := newFixture(t, nil)
	f.vehicle(t, model.Vehicle{ID: "off", Status: model.VehicleOffline, Location: loc(36.8, 10.18)})
	f.incident(t, "I1", incidentSite)
	_, err := f.m.AutoAssign(context.Background(), "I1")
	assert.ErrorIs(t, err, ErrNoCandidate)
	_, err = f.m.AutoAssign(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.pub.names())
}

func TestAssignPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	f.vehicle(t, model.Vehicle{ID: "off", Status: model.VehicleOffline})
	f.incident(t, "I1", incidentSite)
	ctx := context.Background()

	_, err := f.m.AssignVehicle(ctx, "nope", "v1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.m.AssignVehicle(ctx, "I1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.m.AssignVehicle(ctx, "I1", "off")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.m.AssignVehicle(ctx, "I1", "v1")
	require.NoError(t, err)
	_, err = f.m.AssignVehicle(ctx, "I1", "v1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, float64(2), testutil.ToFloat64(assignmentsTotal.WithLabelValues("manual", metrics.OutcomeConflict)))
}

func TestConcurrentAssignSameVehicle(t *testing.T) {
	f := newFixture(t, nil)
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	const n = 16
	for i := 0; i < n; i++ {
		f.incident(t, fmt.Sprintf("I%d", i), incidentSite)
	}

	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := f.m.AssignVehicle(context.Background(), id, "v1")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(fmt.Sprintf("I%d", i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())

	veh, err := f.m.Vehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleEnRoute, veh.Status)
	assigned, err := f.m.Incidents(context.Background(), store.IncidentFilter{Statuses: []model.IncidentStatus{model.IncidentAssigned}})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, veh.AssignedIncident, assigned[0].ID)
	assert.Equal(t, 0, f.m.vehicleLocks.size())
	assert.Equal(t, 0, f.m.incidentLocks.size())
}

func TestConcurrentAssignSameIncident(t *testing.T) {
	f := newFixture(t, nil)
	f.incident(t, "I1", incidentSite)
	const n = 8
	for i := 0; i < n; i++ {
		f.vehicle(t, avail(fmt.Sprintf("v%d", i), loc(36.8, 10.18)))
	}
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.m.AssignVehicle(context.Background(), "I1", id); err == nil {
				ok.Add(1)
			}
		}(fmt.Sprintf("v%d", i))
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	enRoute, _ := f.m.Vehicles(context.Background(), store.VehicleFilter{Statuses: []model.VehicleStatus{model.VehicleEnRoute}})
	assert.Len(t, enRoute, 1)
}

func TestCompleteIncident(t *testing.T) {
	f := newFixture(t, nil)
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	f.incident(t, "I1", incidentSite)
	ctx := context.Background()

	_, err := f.m.CompleteIncident(ctx, "I1")
	assert.ErrorIs(t, err, ErrConflict, "pending incident cannot be completed")

	_, err = f.m.AssignVehicle(ctx, "I1", "v1")
	require.NoError(t, err)
	res, err := f.m.CompleteIncident(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, model.IncidentCompleted, res.Incident.Status)
	require.NotNil(t, res.Vehicle)
	assert.Equal(t, model.VehicleAvailable, res.Vehicle.Status)
	assert.Empty(t, res.Vehicle.AssignedIncident)
	assert.Empty(t, res.Vehicle.ActiveRoute)

	veh, _ := f.m.Vehicle(ctx, "v1")
	assert.True(t, veh.Dispatchable())

	for _, op := range []func() error{
		func() error { _, err := f.m.CompleteIncident(ctx, "I1"); return err },
		func() error { _, err := f.m.CancelIncident(ctx, "I1"); return err },
		func() error { _, err := f.m.AssignVehicle(ctx, "I1", "v1"); return err },
	} {
		assert.ErrorIs(t, op(), ErrConflict, "completed is terminal")
	}
	inc, _ := f.m.Incident(ctx, "I1")
	assert.Equal(t, model.IncidentCompleted, inc.Status)

	assert.Equal(t, []string{
		events.NameIncidentAssigned, events.NameStatusChanged,
		events.NameIncidentUpdated, events.NameStatusChanged,
	}, f.pub.names())
	require.Len(t, f.sink.incidents, 1)
	assert.Equal(t, time.Minute, f.sink.incidents[0].Elapsed)
	require.Len(t, f.sink.statuses, 2)
	assert.Equal(t, model.VehicleEnRoute, f.sink.statuses[1].From)
}

func TestCancelPendingIncident(t *testing.T) {
	f := newFixture(t, nil)
	f.incident(t, "I1", incidentSite)
	res, err := f.m.CancelIncident(context.Background(), "I1")
	require.NoError(t, err)
	assert.Equal(t, model.IncidentCompleted, res.Incident.Status)
	assert.Nil(t, res.Vehicle)
	assert.Equal(t, float64(1), testutil.ToFloat64(incidentsClosed.WithLabelValues("cancelled")))
}

func TestAssignRollsBackOnVehicleWriteFailure(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	ctx := context.Background()
	require.NoError(t, st.SaveVehicle(ctx, avail("v1", loc(36.8, 10.18))))
	require.NoError(t, st.SaveIncident(ctx, model.Incident{ID: "I1", Location: incidentSite, Status: model.IncidentPending}))
	pub := &recordingPublisher{}
	m, err := NewManager(Config{}, st, pub, nil, nil, nil)
	require.NoError(t, err)

	st.failVehicle.Store(true)
	_, err = m.AssignVehicle(ctx, "I1", "v1")
	require.Error(t, err)
	inc, _ := m.Incident(ctx, "I1")
	assert.Equal(t, model.IncidentPending, inc.Status)
	assert.Empty(t, inc.AssignedVehicle)
	assert.Empty(t, pub.names())
}

func TestAssignUsesProviderRoute(t *testing.T) {
	provider := routeTable{36.8: 4}
	f := newFixture(t, provider)
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	f.incident(t, "I1", incidentSite)
	res, err := f.m.AssignVehicle(context.Background(), "I1", "v1")
	require.NoError(t, err)
	assert.True(t, res.Routed)
	assert.Equal(t, []model.Location{{Lat: 36.8, Lng: 10.18}, incidentSite}, res.Vehicle.ActiveRoute)
}

func TestAssignFallsBackWhenProviderFails(t *testing.T) {
	f := newFixture(t, routing.None{})
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	f.incident(t, "I1", incidentSite)
	res, err := f.m.AssignVehicle(context.Background(), "I1", "v1")
	require.NoError(t, err)
	assert.False(t, res.Routed)
	assert.Len(t, res.Vehicle.ActiveRoute, 2)
}

func TestUpdateVehicleStatus(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		from     model.Vehicle
		to       model.VehicleStatus
		wantErr  error
		wantSent bool
	}{
		{"available to offline", avail("v", nil), model.VehicleOffline, nil, true},
		{"offline to available", model.Vehicle{ID: "v", Status: model.VehicleOffline}, model.VehicleAvailable, nil, true},
		{"same status is a no-op", avail("v", nil), model.VehicleAvailable, nil, false},
		{"available to en-route needs assignment", avail("v", nil), model.VehicleEnRoute, ErrConflict, false},
		{"offline to busy", model.Vehicle{ID: "v", Status: model.VehicleOffline}, model.VehicleBusy, ErrConflict, false},
		{"unknown status", avail("v", nil), "parked", ErrInvalidStatus, false},
		{"en-route to busy", model.Vehicle{ID: "v", Status: model.VehicleEnRoute, AssignedIncident: "I1", ActiveRoute: []model.Location{incidentSite}}, model.VehicleBusy, nil, true},
		{"busy to en-route", model.Vehicle{ID: "v", Status: model.VehicleBusy, AssignedIncident: "I1", ActiveRoute: []model.Location{incidentSite}}, model.VehicleEnRoute, nil, true},
		{"busy with incident to available", model.Vehicle{ID: "v", Status: model.VehicleBusy, AssignedIncident: "I1"}, model.VehicleAvailable, ErrConflict, false},
		{"en-route with incident to offline", model.Vehicle{ID: "v", Status: model.VehicleEnRoute, AssignedIncident: "I1", ActiveRoute: []model.Location{incidentSite}}, model.VehicleOffline, ErrConflict, false},
		{"busy without incident to available", model.Vehicle{ID: "v", Status: model.VehicleBusy}, model.VehicleAvailable, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.vehicle(t, tc.from)
			got, err := f.m.UpdateVehicleStatus(ctx, "v", tc.to)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				stored, _ := f.m.Vehicle(ctx, "v")
				assert.Equal(t, tc.from.Status, stored.Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got.Status)
			}
			assert.Equal(t, tc.wantSent, len(f.pub.names()) == 1)
		})
	}
	f := newFixture(t, nil)
	_, err := f.m.UpdateVehicleStatus(ctx, "ghost", model.VehicleOffline)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordPositionAndPlans(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.vehicle(t, avail("v1", loc(36.8, 10.18)))
	f.vehicle(t, avail("v2", loc(36.9, 10.18)))
	f.incident(t, "I1", incidentSite)
	_, err := f.m.AssignVehicle(ctx, "I1", "v1")
	require.NoError(t, err)

	cursor := 7.0
	require.NoError(t, f.m.RecordPosition(ctx, model.PositionUpdate{VehicleID: "v1", Location: incidentSite, Cursor: &cursor}))
	veh, _ := f.m.Vehicle(ctx, "v1")
	assert.Equal(t, incidentSite, *veh.Location)
	assert.Equal(t, 1.0, veh.RouteCursor, "cursor clamped to the last waypoint")
	assert.Equal(t, model.VehicleEnRoute, veh.Status)

	require.NoError(t, f.m.RecordPosition(ctx, model.PositionUpdate{VehicleID: "v2", Location: model.Location{Lat: 1, Lng: 1}, Cursor: &cursor}))
	v2, _ := f.m.Vehicle(ctx, "v2")
	assert.Equal(t, 0.0, v2.RouteCursor)

	assert.ErrorIs(t, f.m.RecordPosition(ctx, model.PositionUpdate{VehicleID: "ghost", Location: incidentSite}), ErrNotFound)
	assert.ErrorIs(t, f.m.RecordPosition(ctx, model.PositionUpdate{VehicleID: "v1", Location: model.Location{Lat: 200}}), ErrInvalidInput)

	plans, err := f.m.SimulationPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "v1", plans[0].VehicleID)
	assert.Equal(t, 1.0, plans[0].Cursor)
	assert.Len(t, plans[0].Waypoints, 2)
}

func TestIntake(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	inc, err := f.m.ReportIncident(ctx, model.Incident{Location: incidentSite})
	require.NoError(t, err)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, model.IncidentPending, inc.Status)
	assert.Equal(t, model.SeverityMedium, inc.Severity)
	assert.Equal(t, fixedNow, inc.ReportedAt)

	_, err = f.m.ReportIncident(ctx, model.Incident{ID: inc.ID, Location: incidentSite})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.m.ReportIncident(ctx, model.Incident{Location: model.Location{Lat: 99}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.m.ReportIncident(ctx, model.Incident{Location: incidentSite, Severity: "apocalyptic"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	v, err := f.m.RegisterVehicle(ctx, model.Vehicle{ID: "amb-1", Location: loc(36.8, 10.18)})
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.Status)
	_, err = f.m.RegisterVehicle(ctx, model.Vehicle{ID: "amb-2", Status: model.VehicleEnRoute})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.m.AssignVehicle(ctx, inc.ID, "amb-1")
	require.NoError(t, err)
	_, err = f.m.RegisterVehicle(ctx, model.Vehicle{ID: "amb-1"})
	assert.ErrorIs(t, err, ErrConflict, "engaged vehicles cannot be overwritten")
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := NewManager(Config{}, nil, nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(Config{DefaultRadiusKm: -1}, store.NewMemoryStore(), nil, nil, nil, nil)
	assert.Error(t, err)
}
