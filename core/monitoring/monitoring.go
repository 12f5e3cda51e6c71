// Package monitoring reports unexpected failures to an error tracker. The
// package keeps one process-wide Monitor, a no-op until Init is called.
package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Config selects the error tracker. An empty DSN disables reporting.
type Config struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	Release          string  `json:"release"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
}

// Validate checks the sample rate.
func (c Config) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate must be between 0 and 1")
	}
	return nil
}

// Enabled reports whether a tracker is configured.
func (c Config) Enabled() bool { return c.DSN != "" }

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. A nil m restores the no-op.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Recover reports a panic and re-raises it. It must be deferred directly.
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush waits for buffered events to be sent.
func Flush(d time.Duration) {
	get().Flush(d)
}

// Guard wraps fn so that panics and returned errors are reported with the
// component tag.
func Guard(component string, fn func() error) func() error {
	return func() error {
		defer Recover()
		err := fn()
		CaptureException(err, map[string]string{"component": component})
		return err
	}
}
