package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const cloudBackupTimeout = 30 * time.Minute

// CloudBackupJob uploads a fresh backup archive to R2 and rotates out old
// ones. Registered only when R2 credentials are configured.
type CloudBackupJob struct {
	service       *R2BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewCloudBackupJob creates the cloud backup job. retentionDays 0 disables
// rotation by age.
func NewCloudBackupJob(service *R2BackupService, retentionDays int, log zerolog.Logger) *CloudBackupJob {
	return &CloudBackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "cloud_backup").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *CloudBackupJob) Name() string { return "cloud_backup" }

// Run implements scheduler.Job.
func (j *CloudBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cloudBackupTimeout)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("cloud backup failed: %w", err)
	}
	if err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		// The backup itself succeeded; rotation can catch up next run.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
