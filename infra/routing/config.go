// Package routing holds the road-routing adapters behind core/routing.Provider.
package routing

import (
	"fmt"
	"net/url"
)

// Provider names accepted in Config.Provider.
const (
	ProviderNone = "none"
	ProviderOSRM = "osrm"
)

// Config selects the routing provider.
type Config struct {
	Provider  string `json:"provider"`
	BaseURL   string `json:"base_url"`
	Profile   string `json:"profile"`
	TimeoutMs int    `json:"timeout_ms"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	if c.Profile == "" {
		c.Profile = "driving"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderNone:
	case ProviderOSRM:
		if c.BaseURL == "" {
			return fmt.Errorf("routing.base_url is required for osrm")
		}
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			return fmt.Errorf("routing.base_url: %w", err)
		}
	default:
		return fmt.Errorf("unknown routing provider %q", c.Provider)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("routing.timeout_ms must be >= 0")
	}
	return nil
}
