package main

import (
	"fmt"
	"time"
)

// Config holds parameters for the tracking feed simulator.
type Config struct {
	Broker        string
	Count         int
	Interval      time.Duration
	CenterLat     float64
	CenterLng     float64
	SpreadKm      float64
	StepKm        float64
	InboundTopic  string
	OutboundTopic string
	AckLatency    time.Duration
	DropRate      float64
	Verbose       bool
}

// Validate checks the flag values.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.CenterLat < -90 || c.CenterLat > 90 || c.CenterLng < -180 || c.CenterLng > 180 {
		return fmt.Errorf("center out of range")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop-rate must be within [0,1]")
	}
	return nil
}
