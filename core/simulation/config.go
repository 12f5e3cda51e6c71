package simulation

import (
	"fmt"
	"time"
)

// Config defines the simulation defaults.
type Config struct {
	TickIntervalMs int     `json:"tick_interval_ms"`
	SpeedFactor    float64 `json:"speed_factor"`
	// Autostart starts a run from the live en-route vehicles at boot.
	Autostart bool `json:"autostart"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = 2000
	}
	if c.SpeedFactor <= 0 {
		c.SpeedFactor = 1
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.TickIntervalMs < 10 {
		return fmt.Errorf("tick_interval_ms must be at least 10, got %d", c.TickIntervalMs)
	}
	return nil
}

func (c Config) interval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}
