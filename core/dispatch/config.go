package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/emsdispatch/core/geo"
)

// Config defines dispatch-related settings.
type Config struct {
	// AssumedSpeedKmh converts straight-line distances into minutes.
	AssumedSpeedKmh float64 `json:"assumed_speed_kmh"`
	// DefaultLimit caps the candidate list when the caller gives no limit.
	DefaultLimit int `json:"default_limit"`
	// DefaultRadiusKm bounds the search when the caller gives no radius.
	// Zero means unbounded.
	DefaultRadiusKm float64 `json:"default_radius_km"`
	// RefineTopK is the number of leading candidates whose minutes are
	// replaced by a routed estimate. Zero disables refinement.
	RefineTopK int `json:"refine_top_k"`
	// RouteTimeoutMs bounds each routing provider call.
	RouteTimeoutMs int `json:"route_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.AssumedSpeedKmh <= 0 {
		c.AssumedSpeedKmh = geo.DefaultSpeedKmh
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.RouteTimeoutMs <= 0 {
		c.RouteTimeoutMs = 5000
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DefaultRadiusKm < 0 {
		return fmt.Errorf("default_radius_km must not be negative")
	}
	if c.RefineTopK < 0 {
		return fmt.Errorf("refine_top_k must not be negative")
	}
	return nil
}

func (c Config) routeTimeout() time.Duration {
	return time.Duration(c.RouteTimeoutMs) * time.Millisecond
}
