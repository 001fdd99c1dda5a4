package core

import (
	"fmt"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/internal/infra/persistence/postgres"
	"tracecore/internal/infra/persistence/sqlite"
	"tracecore/pkg/domain"
)

// StorageDriver names a persistent store implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// StorageConfig selects and parameterizes the persistent store.
type StorageConfig struct {
	Driver      StorageDriver
	Deployer    ActorID
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the store selected by cfg with the default rules
// engine. Only the clock option is consulted; it stamps event wall time.
// The returned close function releases database handles.
func OpenPersistentStore(cfg StorageConfig, opts ...Option) (PersistentStore, func() error, error) {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	engine := domain.NewDefaultRulesEngine()
	clock := memory.WithClock(o.clock.Now)
	switch cfg.Driver {
	case "", StorageMemory:
		return memory.NewStore(cfg.Deployer, engine, clock), func() error { return nil }, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, cfg.Deployer, engine, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, cfg.Deployer, engine, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
