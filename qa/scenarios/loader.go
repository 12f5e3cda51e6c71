// Package scenarios replays scripted dispatch sequences from YAML files
// against a dispatch manager and checks the outcome of every step.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/emsdispatch/core/model"
)

type VehicleDef struct {
	ID     string  `yaml:"id"`
	Type   string  `yaml:"type,omitempty"`
	Lat    float64 `yaml:"lat"`
	Lng    float64 `yaml:"lng"`
	Status string  `yaml:"status,omitempty"`
}

func (v VehicleDef) ToModel() model.Vehicle {
	loc := model.Location{Lat: v.Lat, Lng: v.Lng}
	return model.Vehicle{
		ID:       v.ID,
		Type:     v.Type,
		Status:   model.VehicleStatus(v.Status),
		Location: &loc,
	}
}

type IncidentDef struct {
	ID       string  `yaml:"id"`
	Title    string  `yaml:"title,omitempty"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	Severity string  `yaml:"severity,omitempty"`
}

func (i IncidentDef) ToModel() model.Incident {
	return model.Incident{
		ID:       i.ID,
		Title:    i.Title,
		Location: model.Location{Lat: i.Lat, Lng: i.Lng},
		Severity: model.Severity(i.Severity),
	}
}

// Step actions.
const (
	ActionAssign     = "assign"
	ActionAutoAssign = "auto-assign"
	ActionComplete   = "complete"
	ActionCancel     = "cancel"
	ActionStatus     = "status"
)

// Step outcomes.
const (
	ExpectOK          = "ok"
	ExpectConflict    = "conflict"
	ExpectNotFound    = "not-found"
	ExpectNoCandidate = "no-candidate"
	ExpectInvalid     = "invalid"
)

type StepDef struct {
	Action   string `yaml:"action"`
	Incident string `yaml:"incident,omitempty"`
	Vehicle  string `yaml:"vehicle,omitempty"`
	Status   string `yaml:"status,omitempty"`
	// Expect defaults to ok.
	Expect string `yaml:"expect,omitempty"`
	// ExpectVehicle checks the vehicle picked by auto-assign.
	ExpectVehicle string `yaml:"expect_vehicle,omitempty"`
}

type Expected struct {
	Statuses  map[string]string `yaml:"statuses,omitempty"`
	Incidents map[string]string `yaml:"incidents,omitempty"`
}

type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Vehicles    []VehicleDef  `yaml:"vehicles"`
	Incidents   []IncidentDef `yaml:"incidents"`
	Steps       []StepDef     `yaml:"steps"`
	Expected    Expected      `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	for i, st := range sc.Steps {
		switch st.Action {
		case ActionAssign:
			if st.Incident == "" || st.Vehicle == "" {
				return fmt.Errorf("step %d: assign needs incident and vehicle", i+1)
			}
		case ActionAutoAssign, ActionComplete, ActionCancel:
			if st.Incident == "" {
				return fmt.Errorf("step %d: %s needs an incident", i+1, st.Action)
			}
		case ActionStatus:
			if st.Vehicle == "" || st.Status == "" {
				return fmt.Errorf("step %d: status needs vehicle and status", i+1)
			}
		default:
			return fmt.Errorf("step %d: unknown action %q", i+1, st.Action)
		}
	}
	return nil
}
