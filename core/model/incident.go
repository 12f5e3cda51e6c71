package model

import (
	"fmt"
	"strings"
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentPending   IncidentStatus = "pending"
	IncidentAssigned  IncidentStatus = "assigned"
	IncidentCompleted IncidentStatus = "completed"
)

// Terminal reports whether no further transition is legal.
func (s IncidentStatus) Terminal() bool { return s == IncidentCompleted }

// Severity ranks how urgent an incident is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a wire value into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch sv := Severity(strings.ToLower(strings.TrimSpace(s))); sv {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sv, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Incident is a reported emergency requiring vehicle dispatch.
type Incident struct {
	ID              string         `json:"id"`
	Title           string         `json:"title,omitempty"`
	Location        Location       `json:"location"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	AssignedVehicle string         `json:"assignedVehicle,omitempty"`
	ReportedAt      time.Time      `json:"reportedAt"`
	AssignedAt      *time.Time     `json:"assignedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// Validate checks the invariants that can be verified on the record alone.
func (i Incident) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	if !i.Location.Valid() {
		return fmt.Errorf("incident %s has invalid location %s", i.ID, i.Location)
	}
	if i.Status == IncidentAssigned && i.AssignedVehicle == "" {
		return fmt.Errorf("incident %s is assigned without a vehicle", i.ID)
	}
	if i.Status == IncidentPending && i.AssignedVehicle != "" {
		return fmt.Errorf("incident %s is pending with vehicle %s", i.ID, i.AssignedVehicle)
	}
	return nil
}
