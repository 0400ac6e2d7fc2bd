package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quasar/internal/database"
)

const integrityCheckTimeout = 2 * time.Minute

// CheckDatabasesJob verifies integrity of the service SQLite databases.
type CheckDatabasesJob struct {
	log     zerolog.Logger
	runsDB  *database.DB
	cacheDB *database.DB
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob
func NewCheckDatabasesJob(runsDB, cacheDB *database.DB, log zerolog.Logger) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		log:     log.With().Str("job", "check_databases").Logger(),
		runsDB:  runsDB,
		cacheDB: cacheDB,
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the integrity check on every initialized database. The runs
// database holds the estimation history, so its corruption is an error;
// cache corruption is recoverable by wiping the file.
func (j *CheckDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), integrityCheckTimeout)
	defer cancel()

	if j.runsDB != nil {
		if err := j.runsDB.HealthCheck(ctx); err != nil {
			j.log.Error().
				Err(err).
				Str("database", "runs").
				Msg("Database integrity check failed")
			return fmt.Errorf("database runs is corrupted: %w", err)
		}
		j.log.Debug().Str("database", "runs").Msg("Database integrity OK")
	}

	if j.cacheDB != nil {
		if err := j.cacheDB.HealthCheck(ctx); err != nil {
			j.log.Warn().
				Err(err).
				Str("database", "cache").
				Msg("Cache integrity check failed, entries can be recomputed")
		} else {
			j.log.Debug().Str("database", "cache").Msg("Database integrity OK")
		}
	}

	j.log.Info().Msg("Database integrity check completed")
	return nil
}
