package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/emsdispatch/core/model"
	corestore "github.com/kilianp07/emsdispatch/core/store"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    lat REAL,
    lng REAL,
    driver_id TEXT NOT NULL DEFAULT '',
    assigned_incident TEXT NOT NULL DEFAULT '',
    active_route TEXT NOT NULL DEFAULT '[]',
    route_cursor REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_vehicles_status ON vehicles(status);
CREATE TABLE IF NOT EXISTS incidents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    lat REAL NOT NULL,
    lng REAL NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    assigned_vehicle TEXT NOT NULL DEFAULT '',
    reported_at INTEGER NOT NULL,
    assigned_at INTEGER,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);`

// SQLiteStore persists vehicles and incidents in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const vehicleColumns = `id, name, type, status, lat, lng, driver_id, assigned_incident, active_route, route_cursor`

// GetVehicle returns the vehicle with the given id.
func (s *SQLiteStore) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, corestore.ErrNotFound)
	}
	return v, err
}

// ListVehicles returns the vehicles matching f ordered by id.
func (s *SQLiteStore) ListVehicles(ctx context.Context, f corestore.VehicleFilter) ([]model.Vehicle, error) {
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	where, args := statusClause(statuses)
	rows, err := s.db.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SaveVehicle inserts or replaces the vehicle record.
func (s *SQLiteStore) SaveVehicle(ctx context.Context, v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	route, err := encodeRoute(v.ActiveRoute)
	if err != nil {
		return err
	}
	var lat, lng sql.NullFloat64
	if v.Location != nil {
		lat = sql.NullFloat64{Float64: v.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: v.Location.Lng, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            type = excluded.type,
            status = excluded.status,
            lat = excluded.lat,
            lng = excluded.lng,
            driver_id = excluded.driver_id,
            assigned_incident = excluded.assigned_incident,
            active_route = excluded.active_route,
            route_cursor = excluded.route_cursor`,
		v.ID, v.Name, v.Type, string(v.Status), lat, lng, v.DriverID, v.AssignedIncident, string(route), v.RouteCursor)
	return err
}

const incidentColumns = `id, title, lat, lng, severity, status, assigned_vehicle, reported_at, assigned_at, completed_at`

// GetIncident returns the incident with the given id.
func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	i, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, fmt.Errorf("incident %s: %w", id, corestore.ErrNotFound)
	}
	return i, err
}

// ListIncidents returns the incidents matching f ordered by id.
func (s *SQLiteStore) ListIncidents(ctx context.Context, f corestore.IncidentFilter) ([]model.Incident, error) {
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	where, args := statusClause(statuses)
	rows, err := s.db.QueryContext(ctx, `SELECT `+incidentColumns+` FROM incidents`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SaveIncident inserts or replaces the incident record.
func (s *SQLiteStore) SaveIncident(ctx context.Context, i model.Incident) error {
	if i.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            lat = excluded.lat,
            lng = excluded.lng,
            severity = excluded.severity,
            status = excluded.status,
            assigned_vehicle = excluded.assigned_vehicle,
            reported_at = excluded.reported_at,
            assigned_at = excluded.assigned_at,
            completed_at = excluded.completed_at`,
		i.ID, i.Title, i.Location.Lat, i.Location.Lng, string(i.Severity), string(i.Status), i.AssignedVehicle,
		i.ReportedAt.UnixMilli(), nullMillis(i.AssignedAt), nullMillis(i.CompletedAt))
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVehicle(sc scanner) (model.Vehicle, error) {
	var (
		v        model.Vehicle
		status   string
		lat, lng sql.NullFloat64
		route    string
	)
	if err := sc.Scan(&v.ID, &v.Name, &v.Type, &status, &lat, &lng, &v.DriverID, &v.AssignedIncident, &route, &v.RouteCursor); err != nil {
		return model.Vehicle{}, err
	}
	v.Status = model.VehicleStatus(status)
	if lat.Valid && lng.Valid {
		v.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	wp, err := decodeRoute([]byte(route))
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	v.ActiveRoute = wp
	return v, nil
}

func scanIncident(sc scanner) (model.Incident, error) {
	var (
		i                   model.Incident
		severity, status    string
		reported            int64
		assigned, completed sql.NullInt64
	)
	if err := sc.Scan(&i.ID, &i.Title, &i.Location.Lat, &i.Location.Lng, &severity, &status,
		&i.AssignedVehicle, &reported, &assigned, &completed); err != nil {
		return model.Incident{}, err
	}
	i.Severity = model.Severity(severity)
	i.Status = model.IncidentStatus(status)
	i.ReportedAt = time.UnixMilli(reported).UTC()
	i.AssignedAt = fromNullMillis(assigned)
	i.CompletedAt = fromNullMillis(completed)
	return i, nil
}

func statusClause(statuses []string) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return " WHERE status IN (" + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + ")", args
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
