// Package di provides dependency injection for service implementations.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/quasar/internal/config"
	"github.com/aristath/quasar/internal/database"
	"github.com/aristath/quasar/internal/modules/pec"
	"github.com/aristath/quasar/internal/modules/representations"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/aristath/quasar/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services and stores them in the container
// This is the SINGLE SOURCE OF TRUTH for all service creation
// Services are created in dependency order to ensure all dependencies exist
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Core estimation pipeline
	container.RepresentationsService = representations.NewService(container.CacheRepo, log)
	container.RunsService = runs.NewService(container.RunsRepo, log)
	container.PECService = pec.NewService(
		container.RepresentationsService,
		container.RunsService,
		cfg.SimNoiseLevel,
		cfg.Workers,
		log,
	)

	// Reliability: local snapshots always, cloud backups only when
	// R2 credentials are configured
	databases := map[string]*database.DB{
		"runs":  container.RunsDB,
		"cache": container.CacheDB,
	}
	container.BackupService = reliability.NewBackupService(
		databases,
		filepath.Join(cfg.DataDir, "backups"),
		log,
	)

	if cfg.Backup.Enabled() {
		r2Client, err := reliability.NewR2Client(
			cfg.Backup.AccountID,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretAccessKey,
			cfg.Backup.Bucket,
			log,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		container.R2Client = r2Client
		container.R2BackupService = reliability.NewR2BackupService(r2Client, container.BackupService, cfg.DataDir, log)
		container.RestoreService = reliability.NewRestoreService(r2Client, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("R2 cloud backups enabled")
	} else {
		log.Info().Msg("R2 cloud backups disabled (credentials not configured)")
	}

	log.Info().Msg("Services initialized")
	return nil
}
