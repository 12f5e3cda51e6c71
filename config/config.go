// Package config loads the service configuration from a YAML or JSON file
// with K_SECTION__KEY environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/emsdispatch/core/dispatch"
	"github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/monitoring"
	"github.com/kilianp07/emsdispatch/core/simulation"
	"github.com/kilianp07/emsdispatch/infra/mqtt"
	"github.com/kilianp07/emsdispatch/infra/routing"
	"github.com/kilianp07/emsdispatch/infra/store"
)

type Config struct {
	HTTP       HTTPConfig        `json:"http"`
	Upstream   UpstreamConfig    `json:"upstream"`
	MQTT       mqtt.Config       `json:"mqtt"`
	Store      store.Config      `json:"store"`
	Routing    routing.Config    `json:"routing"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Simulation simulation.Config `json:"simulation"`
	Metrics    metrics.Config    `json:"metrics"`
	Logging    LoggingConfig     `json:"logging"`
	Monitoring monitoring.Config `json:"monitoring"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates every section. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// K_SECTION__KEY overrides section.key
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Upstream.SetDefaults()
	if c.Upstream.Mode == UpstreamMQTT {
		c.MQTT.SetDefaults()
	}
	c.Store.SetDefaults()
	c.Routing.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Simulation.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
	c.Monitoring.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"http", c.HTTP.Validate},
		{"upstream", c.Upstream.Validate},
		{"store", c.Store.Validate},
		{"routing", c.Routing.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"simulation", c.Simulation.Validate},
		{"metrics", c.Metrics.Validate},
		{"logging", c.Logging.Validate},
		{"monitoring", c.Monitoring.Validate},
	}
	if c.Upstream.Mode == UpstreamMQTT {
		checks = append(checks, struct {
			name string
			fn   func() error
		}{"mqtt", c.MQTT.Validate})
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}
