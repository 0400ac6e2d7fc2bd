// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/config"
	"github.com/aristath/quasar/internal/database"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/aristath/quasar/internal/reliability"
	"github.com/aristath/quasar/internal/scheduler"
	"github.com/rs/zerolog"
)

// Cron schedules use six fields, seconds first. Maintenance clusters in
// the early morning with gaps between steps so they never overlap.
const (
	scheduleWALCheckpoints = "0 15 * * * *"   // hourly at :15
	scheduleDatabaseChecks = "0 45 */6 * * *" // every six hours at :45
	scheduleCacheCleanup   = "0 30 1 * * *"   // daily at 01:30
	scheduleRunsRetention  = "0 45 1 * * *"   // daily at 01:45
	scheduleDailyMaint     = "0 0 2 * * *"    // daily at 02:00
	scheduleWeeklyMaint    = "0 0 3 * * 0"    // Sunday at 03:00
	scheduleMonthlyMaint   = "0 0 4 1 * *"    // first of the month at 04:00
	scheduleCloudBackup    = "0 30 4 * * *"   // daily at 04:30
)

// JobInstances holds every job registered with the scheduler so the API
// can trigger them manually.
type JobInstances struct {
	WALCheckpoints     *scheduler.CheckWALCheckpointsJob
	DatabaseChecks     *scheduler.CheckDatabasesJob
	CacheCleanup       *cache.CleanupJob
	RunsRetention      *runs.RetentionJob
	DailyMaintenance   *reliability.DailyMaintenanceJob
	WeeklyMaintenance  *reliability.WeeklyMaintenanceJob
	MonthlyMaintenance *reliability.MonthlyMaintenanceJob
	CloudBackup        *reliability.CloudBackupJob // nil when R2 is not configured
}

// All returns the registered jobs in a stable order.
func (j *JobInstances) All() []scheduler.Job {
	jobs := []scheduler.Job{
		j.WALCheckpoints,
		j.DatabaseChecks,
		j.CacheCleanup,
		j.RunsRetention,
		j.DailyMaintenance,
		j.WeeklyMaintenance,
		j.MonthlyMaintenance,
	}
	if j.CloudBackup != nil {
		jobs = append(jobs, j.CloudBackup)
	}
	return jobs
}

// RegisterJobs creates the scheduler and registers all background jobs
// Returns JobInstances for manual triggering via API
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	container.Scheduler = sched

	databases := map[string]*database.DB{
		"runs":  container.RunsDB,
		"cache": container.CacheDB,
	}

	instances := &JobInstances{
		WALCheckpoints:     scheduler.NewCheckWALCheckpointsJob(container.RunsDB, container.CacheDB, log),
		DatabaseChecks:     scheduler.NewCheckDatabasesJob(container.RunsDB, container.CacheDB, log),
		CacheCleanup:       cache.NewCleanupJob(container.CacheRepo, log),
		RunsRetention:      runs.NewRetentionJob(container.RunsService, cfg.RunsRetentionDays, log),
		DailyMaintenance:   reliability.NewDailyMaintenanceJob(databases, container.BackupService, cfg.DataDir, log),
		WeeklyMaintenance:  reliability.NewWeeklyMaintenanceJob(container.CacheDB, log),
		MonthlyMaintenance: reliability.NewMonthlyMaintenanceJob(databases, container.BackupService, log),
	}
	if container.R2BackupService != nil {
		instances.CloudBackup = reliability.NewCloudBackupJob(container.R2BackupService, cfg.Backup.RetentionDays, log)
	}

	type registration struct {
		schedule string
		job      scheduler.Job
	}
	registrations := []registration{
		{scheduleWALCheckpoints, instances.WALCheckpoints},
		{scheduleDatabaseChecks, instances.DatabaseChecks},
		{scheduleCacheCleanup, instances.CacheCleanup},
		{scheduleRunsRetention, instances.RunsRetention},
		{scheduleDailyMaint, instances.DailyMaintenance},
		{scheduleWeeklyMaint, instances.WeeklyMaintenance},
		{scheduleMonthlyMaint, instances.MonthlyMaintenance},
	}
	if instances.CloudBackup != nil {
		registrations = append(registrations, registration{scheduleCloudBackup, instances.CloudBackup})
	}

	for _, reg := range registrations {
		if err := sched.AddJob(reg.schedule, reg.job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", reg.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(registrations)).Msg("Background jobs registered")
	return instances, nil
}
