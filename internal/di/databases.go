// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/config"
	"github.com/aristath/quasar/internal/database"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. runs.db - durable estimation history (runs, sample data)
	runsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/runs.db",
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runs database: %w", err)
	}
	container.RunsDB = runsDB

	// 2. cache.db - recomputable solver results
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache, // Maximum speed for ephemeral data
		Name:    "cache",
	})
	if err != nil {
		runsDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	// Apply schemas (single source of truth)
	if err := runs.InitSchema(runsDB.Conn()); err != nil {
		runsDB.Close()
		cacheDB.Close()
		return nil, fmt.Errorf("failed to apply schema to runs: %w", err)
	}
	if err := cache.InitSchema(cacheDB.Conn()); err != nil {
		runsDB.Close()
		cacheDB.Close()
		return nil, fmt.Errorf("failed to apply schema to cache: %w", err)
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
