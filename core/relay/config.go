package relay

import (
	"fmt"
	"time"
)

// Config defines downstream fan-out settings.
type Config struct {
	// DispatcherRoles are the client roles that receive fleet-wide events.
	DispatcherRoles []string `json:"dispatcher_roles"`
	// ClientBuffer is the per-client queue length.
	ClientBuffer int `json:"client_buffer"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if len(c.DispatcherRoles) == 0 {
		c.DispatcherRoles = []string{"dispatcher", "admin"}
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 64
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	for _, r := range c.DispatcherRoles {
		if r == "" {
			return fmt.Errorf("dispatcher role must not be empty")
		}
	}
	return nil
}

// LinkConfig bounds the upstream reconnection policy.
type LinkConfig struct {
	// MaxAttempts is the number of consecutive failed connection attempts
	// after which the link gives up.
	MaxAttempts    int `json:"max_attempts"`
	InitialDelayMs int `json:"initial_delay_ms"`
	MaxDelayMs     int `json:"max_delay_ms"`
	// DialTimeoutMs bounds a single connection attempt.
	DialTimeoutMs int `json:"dial_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *LinkConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.InitialDelayMs <= 0 {
		c.InitialDelayMs = 500
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = 30000
	}
	if c.DialTimeoutMs <= 0 {
		c.DialTimeoutMs = 10000
	}
}

// Validate checks the delays are consistent.
func (c LinkConfig) Validate() error {
	if c.MaxDelayMs < c.InitialDelayMs {
		return fmt.Errorf("max_delay_ms (%d) is lower than initial_delay_ms (%d)", c.MaxDelayMs, c.InitialDelayMs)
	}
	return nil
}

func (c LinkConfig) initialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

func (c LinkConfig) maxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

func (c LinkConfig) dialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}
