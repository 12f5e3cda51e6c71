package store

import "fmt"

// Backend names accepted in Config.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures the persistence backend.
type Config struct {
	Backend string `json:"backend"`
	// Path is the sqlite database file. ":memory:" keeps everything in RAM.
	Path string `json:"path"`
	// DSN is the postgres connection string.
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Backend == BackendSQLite && c.Path == "" {
		c.Path = "emsdispatch.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("store.max_open_conns must be >= 0")
	}
	return nil
}
