package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kilianp07/emsdispatch/core/model"
	corestore "github.com/kilianp07/emsdispatch/core/store"
)

type vehicleRecord struct {
	ID               string         `gorm:"primaryKey;size:64"`
	Name             string         `gorm:"size:255"`
	Type             string         `gorm:"size:64"`
	Status           string         `gorm:"size:16;index:idx_vehicles_status"`
	Lat              *float64       `gorm:"type:double precision"`
	Lng              *float64       `gorm:"type:double precision"`
	DriverID         string         `gorm:"size:64"`
	AssignedIncident string         `gorm:"size:64"`
	ActiveRoute      datatypes.JSON `gorm:"type:jsonb;default:'[]'"`
	RouteCursor      float64
	UpdatedAt        time.Time `gorm:"type:timestamptz"`
}

func (vehicleRecord) TableName() string { return "vehicles" }

type incidentRecord struct {
	ID              string     `gorm:"primaryKey;size:64"`
	Title           string     `gorm:"size:255"`
	Lat             float64    `gorm:"type:double precision"`
	Lng             float64    `gorm:"type:double precision"`
	Severity        string     `gorm:"size:16"`
	Status          string     `gorm:"size:16;index:idx_incidents_status"`
	AssignedVehicle string     `gorm:"size:64"`
	ReportedAt      time.Time  `gorm:"type:timestamptz"`
	AssignedAt      *time.Time `gorm:"type:timestamptz"`
	CompletedAt     *time.Time `gorm:"type:timestamptz"`
	UpdatedAt       time.Time  `gorm:"type:timestamptz"`
}

func (incidentRecord) TableName() string { return "incidents" }

// GormStore persists vehicles and incidents in postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects to postgres, checks the connection and migrates the schema.
func NewGormStore(ctx context.Context, dsn string, maxOpen int) (*GormStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql interface: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if err := db.WithContext(ctx).AutoMigrate(&vehicleRecord{}, &incidentRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// GetVehicle returns the vehicle with the given id.
func (s *GormStore) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var rec vehicleRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, corestore.ErrNotFound)
	}
	if err != nil {
		return model.Vehicle{}, err
	}
	return rec.toModel()
}

// ListVehicles returns the vehicles matching f ordered by id.
func (s *GormStore) ListVehicles(ctx context.Context, f corestore.VehicleFilter) ([]model.Vehicle, error) {
	q := s.db.WithContext(ctx).Order("id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	var recs []vehicleRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	res := make([]model.Vehicle, 0, len(recs))
	for _, rec := range recs {
		v, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// SaveVehicle upserts the vehicle record.
func (s *GormStore) SaveVehicle(ctx context.Context, v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	rec, err := vehicleFromModel(v)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// GetIncident returns the incident with the given id.
func (s *GormStore) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	var rec incidentRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Incident{}, fmt.Errorf("incident %s: %w", id, corestore.ErrNotFound)
	}
	if err != nil {
		return model.Incident{}, err
	}
	return rec.toModel(), nil
}

// ListIncidents returns the incidents matching f ordered by id.
func (s *GormStore) ListIncidents(ctx context.Context, f corestore.IncidentFilter) ([]model.Incident, error) {
	q := s.db.WithContext(ctx).Order("id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	var recs []incidentRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	res := make([]model.Incident, 0, len(recs))
	for _, rec := range recs {
		res = append(res, rec.toModel())
	}
	return res, nil
}

// SaveIncident upserts the incident record.
func (s *GormStore) SaveIncident(ctx context.Context, i model.Incident) error {
	if i.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	rec := incidentFromModel(i)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func vehicleFromModel(v model.Vehicle) (vehicleRecord, error) {
	route, err := encodeRoute(v.ActiveRoute)
	if err != nil {
		return vehicleRecord{}, err
	}
	rec := vehicleRecord{
		ID:               v.ID,
		Name:             v.Name,
		Type:             v.Type,
		Status:           string(v.Status),
		DriverID:         v.DriverID,
		AssignedIncident: v.AssignedIncident,
		ActiveRoute:      datatypes.JSON(route),
		RouteCursor:      v.RouteCursor,
	}
	if v.Location != nil {
		lat, lng := v.Location.Lat, v.Location.Lng
		rec.Lat, rec.Lng = &lat, &lng
	}
	return rec, nil
}

func (r vehicleRecord) toModel() (model.Vehicle, error) {
	v := model.Vehicle{
		ID:               r.ID,
		Name:             r.Name,
		Type:             r.Type,
		Status:           model.VehicleStatus(r.Status),
		DriverID:         r.DriverID,
		AssignedIncident: r.AssignedIncident,
		RouteCursor:      r.RouteCursor,
	}
	if r.Lat != nil && r.Lng != nil {
		v.Location = &model.Location{Lat: *r.Lat, Lng: *r.Lng}
	}
	route, err := decodeRoute(r.ActiveRoute)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", r.ID, err)
	}
	v.ActiveRoute = route
	return v, nil
}

func incidentFromModel(i model.Incident) incidentRecord {
	return incidentRecord{
		ID:              i.ID,
		Title:           i.Title,
		Lat:             i.Location.Lat,
		Lng:             i.Location.Lng,
		Severity:        string(i.Severity),
		Status:          string(i.Status),
		AssignedVehicle: i.AssignedVehicle,
		ReportedAt:      i.ReportedAt,
		AssignedAt:      i.AssignedAt,
		CompletedAt:     i.CompletedAt,
	}
}

func (r incidentRecord) toModel() model.Incident {
	return model.Incident{
		ID:              r.ID,
		Title:           r.Title,
		Location:        model.Location{Lat: r.Lat, Lng: r.Lng},
		Severity:        model.Severity(r.Severity),
		Status:          model.IncidentStatus(r.Status),
		AssignedVehicle: r.AssignedVehicle,
		ReportedAt:      r.ReportedAt.UTC(),
		AssignedAt:      utcPtr(r.AssignedAt),
		CompletedAt:     utcPtr(r.CompletedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
