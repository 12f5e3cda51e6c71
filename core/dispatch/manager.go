package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/geo"
	"github.com/kilianp07/emsdispatch/core/logger"
	"github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
	"github.com/kilianp07/emsdispatch/core/routing"
	"github.com/kilianp07/emsdispatch/core/store"
)

// Publisher delivers downstream events. Implementations must not block.
type Publisher interface {
	Publish(ev events.Downstream)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(events.Downstream) {}

// Assignment is the result of a committed assignment.
type Assignment struct {
	Incident model.Incident `json:"incident"`
	Vehicle  model.Vehicle  `json:"vehicle"`
	// Candidate is set when the vehicle was chosen by AutoAssign.
	Candidate *model.Candidate `json:"candidate,omitempty"`
	// Routed is false when the active route is the straight-line fallback.
	Routed bool `json:"routed"`
}

// Completion is the result of CompleteIncident or CancelIncident.
type Completion struct {
	Incident model.Incident `json:"incident"`
	// Vehicle is the released vehicle, nil when none was assigned.
	Vehicle *model.Vehicle `json:"vehicle,omitempty"`
}

// Manager is the dispatch state machine.
type Manager struct {
	cfg      Config
	store    store.Store
	selector *Selector
	routes   routing.Provider
	pub      Publisher
	sink     metrics.MetricsSink
	log      logger.Logger
	now      func() time.Time

	incidentLocks *keyedMutex
	vehicleLocks  *keyedMutex
	// commit is held exclusively while the records of one transition are
	// written and shared by readers.
	commit sync.RWMutex
}

// NewManager creates a Manager. Only st is mandatory.
func NewManager(cfg Config, st store.Store, pub Publisher, routes routing.Provider, sink metrics.MetricsSink, log logger.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("dispatch: store is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	log = logger.OrNop(log)
	return &Manager{
		cfg:           cfg,
		store:         st,
		selector:      NewSelector(cfg, routes, log),
		routes:        routes,
		pub:           pub,
		sink:          sink,
		log:           log,
		now:           time.Now,
		incidentLocks: newKeyedMutex(),
		vehicleLocks:  newKeyedMutex(),
	}, nil
}

// AssignVehicle assigns vehicleID to incidentID. The incident must be
// pending and the vehicle available when the transition commits, otherwise
// ErrConflict is returned and nothing is written.
func (m *Manager) AssignVehicle(ctx context.Context, incidentID, vehicleID string) (Assignment, error) {
	res, err := m.assign(ctx, incidentID, vehicleID)
	m.recordAssignment(res, incidentID, vehicleID, false, err)
	return res, err
}

// AutoAssign assigns the top-ranked candidate to incidentID.
func (m *Manager) AutoAssign(ctx context.Context, incidentID string) (Assignment, error) {
	inc, err := m.Incident(ctx, incidentID)
	if err != nil {
		m.recordAssignment(Assignment{}, incidentID, "", true, err)
		return Assignment{}, err
	}
	if inc.Status != model.IncidentPending {
		err := fmt.Errorf("%w: incident %s is %s", ErrConflict, inc.ID, inc.Status)
		m.recordAssignment(Assignment{}, incidentID, "", true, err)
		return Assignment{}, err
	}
	cands, err := m.Nearest(ctx, Query{Location: inc.Location})
	if err != nil {
		m.recordAssignment(Assignment{}, incidentID, "", true, err)
		return Assignment{}, err
	}
	if len(cands) == 0 {
		err := fmt.Errorf("%w for incident %s", ErrNoCandidate, inc.ID)
		m.recordAssignment(Assignment{}, incidentID, "", true, err)
		return Assignment{}, err
	}
	top := cands[0]
	res, err := m.assign(ctx, incidentID, top.VehicleID)
	if err == nil {
		res.Candidate = &top
	}
	m.recordAssignment(res, incidentID, top.VehicleID, true, err)
	return res, err
}

func (m *Manager) assign(ctx context.Context, incidentID, vehicleID string) (Assignment, error) {
	// The route is fetched before any lock is taken so a slow provider
	// never holds up other transitions.
	inc, veh, err := m.snapshot(ctx, incidentID, vehicleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := checkAssignable(inc, veh); err != nil {
		return Assignment{}, err
	}
	route, routed := m.routeTo(ctx, veh, inc.Location)

	unlockInc := m.incidentLocks.Lock(incidentID)
	defer unlockInc()
	unlockVeh := m.vehicleLocks.Lock(vehicleID)
	defer unlockVeh()

	inc, veh, err = m.snapshot(ctx, incidentID, vehicleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := checkAssignable(inc, veh); err != nil {
		return Assignment{}, err
	}

	now := m.now().UTC()
	prevInc := inc
	inc.Status = model.IncidentAssigned
	inc.AssignedVehicle = veh.ID
	inc.AssignedAt = &now
	veh.Status = model.VehicleEnRoute
	veh.AssignedIncident = inc.ID
	veh.ActiveRoute = route
	veh.RouteCursor = 0

	if err := m.commitPair(ctx, prevInc, inc, veh); err != nil {
		return Assignment{}, err
	}
	m.log.Infof("incident %s assigned to vehicle %s", inc.ID, veh.ID)

	m.pub.Publish(events.IncidentAssigned{IncidentID: inc.ID, VehicleID: veh.ID, Action: events.ActionAssigned, Timestamp: now})
	m.pub.Publish(events.StatusChanged{VehicleID: veh.ID, Status: veh.Status, Timestamp: now})
	m.recordStatus(veh.ID, model.VehicleAvailable, veh.Status, now)
	return Assignment{Incident: inc, Vehicle: veh, Routed: routed}, nil
}

func checkAssignable(inc model.Incident, veh model.Vehicle) error {
	if inc.Status != model.IncidentPending {
		return fmt.Errorf("%w: incident %s is %s", ErrConflict, inc.ID, inc.Status)
	}
	if !veh.Dispatchable() {
		return fmt.Errorf("%w: vehicle %s is %s", ErrConflict, veh.ID, veh.Status)
	}
	return nil
}

// routeTo returns the active route a vehicle follows toward dest. Provider
// failures degrade to the straight line.
func (m *Manager) routeTo(ctx context.Context, veh model.Vehicle, dest model.Location) ([]model.Location, bool) {
	if veh.Location == nil {
		return []model.Location{dest}, false
	}
	rctx, cancel := context.WithTimeout(ctx, m.cfg.routeTimeout())
	defer cancel()
	r, routed, err := routing.RouteOrStraight(rctx, m.routes, *veh.Location, dest, m.cfg.AssumedSpeedKmh)
	if err != nil {
		m.log.Warnf("route for vehicle %s: %v, using straight line", veh.ID, err)
	}
	return r.Waypoints, routed
}

// CompleteIncident closes an assigned incident and releases its vehicle.
func (m *Manager) CompleteIncident(ctx context.Context, incidentID string) (Completion, error) {
	return m.close(ctx, incidentID, model.IncidentAssigned, "completed")
}

// CancelIncident closes a pending incident that will not be served.
func (m *Manager) CancelIncident(ctx context.Context, incidentID string) (Completion, error) {
	return m.close(ctx, incidentID, model.IncidentPending, "cancelled")
}

func (m *Manager) close(ctx context.Context, incidentID string, from model.IncidentStatus, path string) (Completion, error) {
	unlockInc := m.incidentLocks.Lock(incidentID)
	defer unlockInc()

	inc, err := m.readIncident(ctx, incidentID)
	if err != nil {
		return Completion{}, err
	}
	if inc.Status != from {
		return Completion{}, fmt.Errorf("%w: incident %s is %s", ErrConflict, inc.ID, inc.Status)
	}

	now := m.now().UTC()
	prevInc := inc
	inc.Status = model.IncidentCompleted
	inc.CompletedAt = &now

	var released *model.Vehicle
	var prevStatus model.VehicleStatus
	if inc.AssignedVehicle != "" {
		unlockVeh := m.vehicleLocks.Lock(inc.AssignedVehicle)
		defer unlockVeh()
		veh, err := m.readVehicle(ctx, inc.AssignedVehicle)
		switch {
		case errors.Is(err, store.ErrNotFound):
			m.log.Warnf("incident %s: assigned vehicle %s no longer exists", inc.ID, inc.AssignedVehicle)
		case err != nil:
			return Completion{}, err
		case veh.AssignedIncident != inc.ID:
			m.log.Warnf("incident %s: vehicle %s serves %q, not released", inc.ID, veh.ID, veh.AssignedIncident)
		default:
			prevStatus = veh.Status
			veh.Status = model.VehicleAvailable
			veh.ClearAssignment()
			released = &veh
		}
	}

	if released != nil {
		err = m.commitPair(ctx, prevInc, inc, *released)
	} else {
		err = m.commitIncident(ctx, inc)
	}
	if err != nil {
		return Completion{}, err
	}
	incidentsClosed.WithLabelValues(path).Inc()
	m.log.Infof("incident %s %s", inc.ID, path)

	m.pub.Publish(events.IncidentUpdated{IncidentID: inc.ID, Updates: map[string]any{
		"status":      inc.Status,
		"completedAt": now,
	}})
	m.recordIncident(inc, now)
	if released != nil {
		m.pub.Publish(events.StatusChanged{VehicleID: released.ID, Status: released.Status, Timestamp: now})
		m.recordStatus(released.ID, prevStatus, released.Status, now)
	}
	return Completion{Incident: inc, Vehicle: released}, nil
}

// vehicleTransitions lists the manual status changes. Transitions into
// en-route from available happen only through assignment.
var vehicleTransitions = map[model.VehicleStatus][]model.VehicleStatus{
	model.VehicleAvailable: {model.VehicleOffline},
	model.VehicleEnRoute:   {model.VehicleBusy, model.VehicleAvailable, model.VehicleOffline},
	model.VehicleBusy:      {model.VehicleEnRoute, model.VehicleAvailable, model.VehicleOffline},
	model.VehicleOffline:   {model.VehicleAvailable},
}

// UpdateVehicleStatus applies a manual status change. It never alters an
// incident, so a vehicle serving an open incident cannot be made available
// or offline; the incident must be completed first.
func (m *Manager) UpdateVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) (model.Vehicle, error) {
	if _, err := model.ParseVehicleStatus(string(status)); err != nil {
		return model.Vehicle{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	unlock := m.vehicleLocks.Lock(vehicleID)
	defer unlock()

	veh, err := m.readVehicle(ctx, vehicleID)
	if err != nil {
		return model.Vehicle{}, err
	}
	if veh.Status == status {
		return veh, nil
	}
	if !legalTransition(veh.Status, status) {
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %s cannot go from %s to %s", ErrConflict, veh.ID, veh.Status, status)
	}
	switch {
	case veh.AssignedIncident != "" && !status.Engaged():
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %s serves incident %s", ErrConflict, veh.ID, veh.AssignedIncident)
	case status == model.VehicleEnRoute && (veh.AssignedIncident == "" || len(veh.ActiveRoute) == 0):
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %s has no active route", ErrConflict, veh.ID)
	}

	prev := veh.Status
	veh.Status = status
	if !status.Engaged() {
		veh.ClearAssignment()
	}
	m.commit.Lock()
	err = m.store.SaveVehicle(ctx, veh)
	m.commit.Unlock()
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("save vehicle %s: %w", veh.ID, err)
	}
	now := m.now().UTC()
	m.log.Infof("vehicle %s: %s -> %s", veh.ID, prev, status)
	m.pub.Publish(events.StatusChanged{VehicleID: veh.ID, Status: status, Timestamp: now})
	m.recordStatus(veh.ID, prev, status, now)
	return veh, nil
}

func legalTransition(from, to model.VehicleStatus) bool {
	for _, s := range vehicleTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RecordPosition stores an accepted vehicle position. The simulator cursor
// is kept only while the vehicle follows a route.
func (m *Manager) RecordPosition(ctx context.Context, p model.PositionUpdate) error {
	if !p.Location.Valid() {
		return fmt.Errorf("%w: position %s for vehicle %s", ErrInvalidInput, p.Location, p.VehicleID)
	}
	unlock := m.vehicleLocks.Lock(p.VehicleID)
	defer unlock()

	veh, err := m.readVehicle(ctx, p.VehicleID)
	if err != nil {
		return err
	}
	loc := p.Location
	veh.Location = &loc
	if p.Cursor != nil && len(veh.ActiveRoute) > 0 {
		veh.RouteCursor = min(*p.Cursor, float64(len(veh.ActiveRoute)-1))
	}
	m.commit.Lock()
	defer m.commit.Unlock()
	return m.store.SaveVehicle(ctx, veh)
}

// RegisterVehicle creates or replaces a fleet record. Engaged vehicles are
// rejected: status changes of a dispatched vehicle go through the state
// machine.
func (m *Manager) RegisterVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	v.ID = strings.TrimSpace(v.ID)
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = model.VehicleAvailable
	}
	if v.Status != model.VehicleAvailable && v.Status != model.VehicleOffline {
		return model.Vehicle{}, fmt.Errorf("%w: new vehicles must be available or offline", ErrInvalidInput)
	}
	v.ClearAssignment()
	if err := v.Validate(); err != nil {
		return model.Vehicle{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	unlock := m.vehicleLocks.Lock(v.ID)
	defer unlock()
	existing, err := m.readVehicle(ctx, v.ID)
	switch {
	case err == nil && existing.Engaged():
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %s is %s", ErrConflict, v.ID, existing.Status)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return model.Vehicle{}, err
	}
	m.commit.Lock()
	err = m.store.SaveVehicle(ctx, v)
	m.commit.Unlock()
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("save vehicle %s: %w", v.ID, err)
	}
	return v, nil
}

// ReportIncident records a new pending incident.
func (m *Manager) ReportIncident(ctx context.Context, inc model.Incident) (model.Incident, error) {
	inc.ID = strings.TrimSpace(inc.ID)
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Severity == "" {
		inc.Severity = model.SeverityMedium
	}
	if _, err := model.ParseSeverity(string(inc.Severity)); err != nil {
		return model.Incident{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	inc.Status = model.IncidentPending
	inc.AssignedVehicle = ""
	inc.AssignedAt, inc.CompletedAt = nil, nil
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = m.now().UTC()
	}
	if err := inc.Validate(); err != nil {
		return model.Incident{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	unlock := m.incidentLocks.Lock(inc.ID)
	defer unlock()
	if _, err := m.readIncident(ctx, inc.ID); err == nil {
		return model.Incident{}, fmt.Errorf("%w: incident %s already exists", ErrConflict, inc.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Incident{}, err
	}
	if err := m.commitIncident(ctx, inc); err != nil {
		return model.Incident{}, err
	}
	m.log.Infof("incident %s reported (%s)", inc.ID, inc.Severity)
	m.pub.Publish(events.IncidentUpdated{IncidentID: inc.ID, Updates: map[string]any{
		"status":   inc.Status,
		"severity": inc.Severity,
		"location": inc.Location,
	}})
	return inc, nil
}

// Vehicle returns the vehicle record.
func (m *Manager) Vehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.commit.RLock()
	defer m.commit.RUnlock()
	return m.readVehicle(ctx, id)
}

// Incident returns the incident record.
func (m *Manager) Incident(ctx context.Context, id string) (model.Incident, error) {
	m.commit.RLock()
	defer m.commit.RUnlock()
	return m.readIncident(ctx, id)
}

// Vehicles lists vehicles matching f.
func (m *Manager) Vehicles(ctx context.Context, f store.VehicleFilter) ([]model.Vehicle, error) {
	m.commit.RLock()
	defer m.commit.RUnlock()
	return m.store.ListVehicles(ctx, f)
}

// Incidents lists incidents matching f.
func (m *Manager) Incidents(ctx context.Context, f store.IncidentFilter) ([]model.Incident, error) {
	m.commit.RLock()
	defer m.commit.RUnlock()
	return m.store.ListIncidents(ctx, f)
}

// Nearest ranks the available vehicles around q.Location.
func (m *Manager) Nearest(ctx context.Context, q Query) ([]model.Candidate, error) {
	pool, err := m.Vehicles(ctx, store.VehicleFilter{Statuses: []model.VehicleStatus{model.VehicleAvailable}})
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return m.selector.Rank(ctx, q, pool), nil
}

// SimulationPlans builds route plans for every en-route vehicle, resuming
// from the stored cursor.
func (m *Manager) SimulationPlans(ctx context.Context) ([]model.RoutePlan, error) {
	vs, err := m.Vehicles(ctx, store.VehicleFilter{Statuses: []model.VehicleStatus{model.VehicleEnRoute}})
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	plans := make([]model.RoutePlan, 0, len(vs))
	for _, v := range vs {
		if len(v.ActiveRoute) == 0 {
			continue
		}
		plans = append(plans, model.RoutePlan{
			VehicleID: v.ID,
			Waypoints: v.ActiveRoute,
			Cursor:    v.RouteCursor,
		})
	}
	return plans, nil
}

func (m *Manager) snapshot(ctx context.Context, incidentID, vehicleID string) (model.Incident, model.Vehicle, error) {
	m.commit.RLock()
	defer m.commit.RUnlock()
	inc, err := m.readIncident(ctx, incidentID)
	if err != nil {
		return model.Incident{}, model.Vehicle{}, err
	}
	veh, err := m.readVehicle(ctx, vehicleID)
	if err != nil {
		return model.Incident{}, model.Vehicle{}, err
	}
	return inc, veh, nil
}

func (m *Manager) readIncident(ctx context.Context, id string) (model.Incident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return model.Incident{}, fmt.Errorf("get incident %s: %w", id, err)
	}
	return inc, nil
}

func (m *Manager) readVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	veh, err := m.store.GetVehicle(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
		}
		return model.Vehicle{}, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	return veh, nil
}

// commitPair writes both records of a transition. When the vehicle write
// fails the incident is restored to prev.
func (m *Manager) commitPair(ctx context.Context, prev, inc model.Incident, veh model.Vehicle) error {
	m.commit.Lock()
	defer m.commit.Unlock()
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	if err := m.store.SaveVehicle(ctx, veh); err != nil {
		if rerr := m.store.SaveIncident(ctx, prev); rerr != nil {
			m.log.Errorf("rollback incident %s: %v", prev.ID, rerr)
		}
		return fmt.Errorf("save vehicle %s: %w", veh.ID, err)
	}
	return nil
}

func (m *Manager) commitIncident(ctx context.Context, inc model.Incident) error {
	m.commit.Lock()
	defer m.commit.Unlock()
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

func (m *Manager) recordAssignment(res Assignment, incidentID, vehicleID string, auto bool, err error) {
	mode := "manual"
	if auto {
		mode = "auto"
	}
	outcome := metrics.OutcomeAssigned
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		outcome = metrics.OutcomeConflict
	case errors.Is(err, ErrNoCandidate):
		outcome = metrics.OutcomeNoCandidate
	case errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeNotFound
	default:
		outcome = metrics.OutcomeError
	}
	assignmentsTotal.WithLabelValues(mode, outcome).Inc()
	if err != nil {
		m.log.Debugw("assignment rejected", map[string]any{"incident": incidentID, "vehicle": vehicleID, "outcome": outcome, "error": err.Error()})
	}
	ev := metrics.AssignmentEvent{
		IncidentID: incidentID,
		VehicleID:  vehicleID,
		Severity:   res.Incident.Severity,
		Outcome:    outcome,
		Auto:       auto,
		Time:       m.now().UTC(),
	}
	if err == nil && res.Vehicle.Location != nil {
		ev.DistanceKm = geo.Distance(*res.Vehicle.Location, res.Incident.Location)
	}
	if rerr := m.sink.RecordAssignment(ev); rerr != nil {
		m.log.Warnf("metrics: record assignment: %v", rerr)
	}
}

func (m *Manager) recordStatus(vehicleID string, from, to model.VehicleStatus, at time.Time) {
	statusChanges.WithLabelValues(string(to)).Inc()
	if rec, ok := m.sink.(metrics.StatusRecorder); ok {
		if err := rec.RecordStatusChange(metrics.StatusChangeEvent{VehicleID: vehicleID, From: from, To: to, Time: at}); err != nil {
			m.log.Warnf("metrics: record status: %v", err)
		}
	}
}

func (m *Manager) recordIncident(inc model.Incident, at time.Time) {
	rec, ok := m.sink.(metrics.IncidentRecorder)
	if !ok {
		return
	}
	ev := metrics.IncidentEvent{IncidentID: inc.ID, VehicleID: inc.AssignedVehicle, Status: inc.Status, Time: at}
	if !inc.ReportedAt.IsZero() {
		ev.Elapsed = at.Sub(inc.ReportedAt)
	}
	if err := rec.RecordIncident(ev); err != nil {
		m.log.Warnf("metrics: record incident: %v", err)
	}
}
