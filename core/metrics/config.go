package metrics

import (
	"fmt"

	"github.com/kilianp07/emsdispatch/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusListen is the address of the /metrics listener. Empty
	// disables it.
	PrometheusListen string `json:"prometheus_listen"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	for i := range c.Sinks {
		if c.Sinks[i].Conf == nil {
			c.Sinks[i].Conf = map[string]any{}
		}
	}
}

// Validate checks that every sink declares a type.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics.sinks[%d]: type is required", i)
		}
	}
	return nil
}
