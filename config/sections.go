package config

import (
	"fmt"
	"strings"

	"github.com/kilianp07/emsdispatch/auth"
	"github.com/kilianp07/emsdispatch/core/relay"
	"github.com/kilianp07/emsdispatch/infra/logger"
	"github.com/kilianp07/emsdispatch/infra/ws"
	"github.com/kilianp07/emsdispatch/infra/wslink"
)

// HTTPConfig configures the API listener and the downstream websocket.
type HTTPConfig struct {
	Listen string `json:"listen"`
	WSPath string `json:"ws_path"`
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string `json:"api_token"`
	// DispatcherRoles receive fleet-wide events.
	DispatcherRoles []string  `json:"dispatcher_roles"`
	ClientBuffer    int       `json:"client_buffer"`
	WS              ws.Config `json:"ws"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	c.WS.SetDefaults()
	rc := c.Relay()
	c.DispatcherRoles = rc.DispatcherRoles
	c.ClientBuffer = rc.ClientBuffer
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("http.ws_path must start with /")
	}
	return c.Relay().Validate()
}

// Relay returns the relay settings carried by the section.
func (c HTTPConfig) Relay() relay.Config {
	rc := relay.Config{DispatcherRoles: c.DispatcherRoles, ClientBuffer: c.ClientBuffer}
	rc.SetDefaults()
	return rc
}

// Upstream modes.
const (
	UpstreamNone      = "none"
	UpstreamWebsocket = "websocket"
	UpstreamMQTT      = "mqtt"
)

// UpstreamConfig configures the link to the tracking service. In mqtt mode
// the broker settings come from the mqtt section.
type UpstreamConfig struct {
	Mode           string `json:"mode"`
	URL            string `json:"url"`
	Token          string `json:"token"`
	MaxAttempts    int    `json:"max_attempts"`
	InitialDelayMs int    `json:"initial_delay_ms"`
	MaxDelayMs     int    `json:"max_delay_ms"`
	DialTimeoutMs  int    `json:"dial_timeout_ms"`
	SendBuffer     int    `json:"send_buffer"`
	// OAuth fetches a bearer token for the websocket link.
	OAuth auth.Conf `json:"oauth"`
}

// SetDefaults applies sane defaults.
func (c *UpstreamConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = UpstreamNone
	}
	lc := c.Link()
	c.MaxAttempts = lc.MaxAttempts
	c.InitialDelayMs = lc.InitialDelayMs
	c.MaxDelayMs = lc.MaxDelayMs
	c.DialTimeoutMs = lc.DialTimeoutMs
}

// Validate checks the mode and its settings.
func (c UpstreamConfig) Validate() error {
	switch c.Mode {
	case UpstreamNone, UpstreamMQTT:
	case UpstreamWebsocket:
		if err := c.Websocket().Validate(); err != nil {
			return err
		}
		if err := c.OAuth.Validate(); err != nil {
			return fmt.Errorf("upstream.oauth: %w", err)
		}
	default:
		return fmt.Errorf("unknown upstream mode %q", c.Mode)
	}
	return c.Link().Validate()
}

// Link returns the reconnection policy.
func (c UpstreamConfig) Link() relay.LinkConfig {
	lc := relay.LinkConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialDelayMs: c.InitialDelayMs,
		MaxDelayMs:     c.MaxDelayMs,
		DialTimeoutMs:  c.DialTimeoutMs,
	}
	lc.SetDefaults()
	return lc
}

// Websocket returns the websocket dialer settings.
func (c UpstreamConfig) Websocket() wslink.Config {
	wc := wslink.Config{URL: c.URL, Token: c.Token, SendBuffer: c.SendBuffer}
	wc.SetDefaults()
	return wc
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
}

// Apply sets the process-wide log level.
func (c LoggingConfig) Apply() error {
	return logger.SetLevel(c.Level)
}
