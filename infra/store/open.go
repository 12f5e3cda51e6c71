package store

import (
	"context"
	"fmt"

	corestore "github.com/kilianp07/emsdispatch/core/store"
	"github.com/kilianp07/emsdispatch/infra/logger"
)

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg Config, log logger.Logger) (corestore.Store, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	switch cfg.Backend {
	case "", BackendMemory:
		log.Infof("using in-memory store")
		return corestore.NewMemoryStore(), nil
	case BackendSQLite:
		log.Infof("using sqlite store at %s", cfg.Path)
		return NewSQLiteStore(ctx, cfg.Path)
	case BackendPostgres:
		log.Infof("using postgres store")
		return NewGormStore(ctx, cfg.DSN, cfg.MaxOpenConns)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
