package model

// Candidate is a ranked vehicle suggestion produced for a single dispatch
// decision. Candidates are never stored.
type Candidate struct {
	VehicleID            string  `json:"vehicleId"`
	StraightLineDistance float64 `json:"straightLineDistance"` // km
	EstimatedMinutes     float64 `json:"estimatedMinutes"`
	Rank                 int     `json:"rank"`
	Refined              bool    `json:"refined,omitempty"` // minutes come from the routing provider
}
