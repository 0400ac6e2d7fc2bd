// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.RunsRepo = runs.NewRepository(container.RunsDB.Conn(), log)
	container.CacheRepo = cache.NewRepository(container.CacheDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}
