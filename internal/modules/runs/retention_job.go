package runs

import (
	"github.com/rs/zerolog"
)

// RetentionJob prunes runs older than the configured retention period.
// It should be scheduled to run daily.
type RetentionJob struct {
	service *Service
	days    int
	log     zerolog.Logger
}

// NewRetentionJob creates a new runs retention job. A non-positive days
// value disables pruning.
func NewRetentionJob(service *Service, days int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		service: service,
		days:    days,
		log:     log.With().Str("job", "runs_retention").Logger(),
	}
}

// Run executes the retention job.
func (j *RetentionJob) Run() error {
	if j.days <= 0 {
		j.log.Debug().Msg("Run retention disabled, skipping")
		return nil
	}

	deleted, err := j.service.PruneOlderThan(j.days)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to prune old runs")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Int("retention_days", j.days).
			Msg("Old runs pruned")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *RetentionJob) Name() string {
	return "runs_retention"
}
