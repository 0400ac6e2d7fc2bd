package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/quasar/internal/database"
	"github.com/rs/zerolog"
)

// Disk space thresholds for the data directory. Below the critical
// threshold the daily job fails hard so the alert is impossible to miss.
const (
	diskCriticalBytes = 512 * 1024 * 1024
	diskLowBytes      = 5 * 1024 * 1024 * 1024
	diskWarnBytes     = 10 * 1024 * 1024 * 1024

	dailyBackupKeepDays = 7

	maintenanceTimeout = 10 * time.Minute
)

// DailyMaintenanceJob keeps the databases healthy day to day: integrity
// checks, WAL truncation, local snapshots, disk space and growth tracking.
type DailyMaintenanceJob struct {
	databases     map[string]*database.DB
	backupService *BackupService
	dataDir       string
	log           zerolog.Logger
}

// NewDailyMaintenanceJob creates the daily maintenance job.
func NewDailyMaintenanceJob(databases map[string]*database.DB, backupService *BackupService, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases:     databases,
		backupService: backupService,
		dataDir:       dataDir,
		log:           log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *DailyMaintenanceJob) Name() string { return "daily_maintenance" }

// Run implements scheduler.Job. Steps run in order and a failing step does
// not stop the rest; only critically low disk space aborts the sequence.
func (j *DailyMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	j.log.Info().Msg("Starting daily maintenance")
	start := time.Now()
	failures := 0

	if err := j.checkIntegrity(ctx); err != nil {
		j.log.Error().Err(err).Msg("Integrity check failed")
		failures++
	}
	if err := j.truncateWALs(); err != nil {
		j.log.Error().Err(err).Msg("WAL truncation failed")
		failures++
	}
	if err := j.refreshLocalBackups(ctx); err != nil {
		j.log.Error().Err(err).Msg("Local backup refresh failed")
		failures++
	}
	if err := j.checkDiskSpace(); err != nil {
		return fmt.Errorf("daily maintenance halted: %w", err)
	}
	j.reportGrowth()

	j.log.Info().
		Dur("duration", time.Since(start)).
		Int("failures", failures).
		Msg("Daily maintenance completed")

	if failures > 0 {
		return fmt.Errorf("daily maintenance finished with %d failed steps", failures)
	}
	return nil
}

// checkIntegrity runs a full health check on every database. Cache
// corruption is only a warning since its contents can be recomputed.
func (j *DailyMaintenanceJob) checkIntegrity(ctx context.Context) error {
	for name, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			if name == "cache" {
				j.log.Warn().Err(err).
					Str("database", name).
					Msg("Cache database unhealthy; entries can be recomputed after a reset")
				continue
			}
			return fmt.Errorf("database %s is unhealthy: %w", name, err)
		}
		j.log.Debug().Str("database", name).Msg("Integrity check passed")
	}
	return nil
}

func (j *DailyMaintenanceJob) truncateWALs() error {
	for name, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return fmt.Errorf("failed to truncate WAL for %s: %w", name, err)
		}
	}
	j.log.Debug().Msg("WAL files truncated")
	return nil
}

// refreshLocalBackups snapshots every database, prunes old snapshots, and
// spot-checks the files it just wrote.
func (j *DailyMaintenanceJob) refreshLocalBackups(ctx context.Context) error {
	if j.backupService == nil {
		return nil
	}

	if err := j.backupService.CreateDailyBackups(ctx); err != nil {
		return err
	}
	if err := j.backupService.PruneDailyBackups(dailyBackupKeepDays); err != nil {
		return err
	}

	dir, err := j.backupService.LatestDailyDir()
	if err != nil {
		return err
	}
	for _, name := range j.backupService.GetDatabaseNames(true) {
		path := filepath.Join(dir, name+".db")
		if err := verifySQLiteFile(ctx, path); err != nil {
			return fmt.Errorf("backup of %s failed verification: %w", name, err)
		}
	}

	j.log.Debug().Str("dir", dir).Msg("Local backups verified")
	return nil
}

// checkDiskSpace inspects free space on the volume holding the data
// directory and fails when it gets critically low.
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat data directory: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1024 / 1024 / 1024

	switch {
	case availableBytes < diskCriticalBytes:
		return fmt.Errorf("critically low disk space: %.2f GB available", availableGB)
	case availableBytes < diskLowBytes:
		j.log.Error().Float64("available_gb", availableGB).Msg("Low disk space")
	case availableBytes < diskWarnBytes:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space getting low")
	default:
		j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space OK")
	}
	return nil
}

// reportGrowth logs per-database size metrics so growth shows up in the
// logs long before it shows up as a disk problem.
func (j *DailyMaintenanceJob) reportGrowth() {
	for name, db := range j.databases {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to collect database stats")
			continue
		}
		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_mb", float64(stats.WALSizeBytes)/1024/1024).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database size")
	}
}

// WeeklyMaintenanceJob reclaims space from the cache database, which has
// the highest churn: solved representations are inserted constantly and
// pruned by the cleanup job.
type WeeklyMaintenanceJob struct {
	cacheDB *database.DB
	log     zerolog.Logger
}

// NewWeeklyMaintenanceJob creates the weekly maintenance job.
func NewWeeklyMaintenanceJob(cacheDB *database.DB, log zerolog.Logger) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{
		cacheDB: cacheDB,
		log:     log.With().Str("job", "weekly_maintenance").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *WeeklyMaintenanceJob) Name() string { return "weekly_maintenance" }

// Run implements scheduler.Job.
func (j *WeeklyMaintenanceJob) Run() error {
	if j.cacheDB == nil {
		return nil
	}

	j.log.Info().Msg("Starting weekly maintenance")

	before, err := j.cacheDB.GetStats()
	if err != nil {
		return fmt.Errorf("failed to collect cache stats: %w", err)
	}
	if err := j.cacheDB.Vacuum(); err != nil {
		return fmt.Errorf("failed to vacuum cache database: %w", err)
	}
	after, err := j.cacheDB.GetStats()
	if err != nil {
		return fmt.Errorf("failed to collect cache stats after vacuum: %w", err)
	}

	j.log.Info().
		Float64("size_before_mb", float64(before.SizeBytes)/1024/1024).
		Float64("size_after_mb", float64(after.SizeBytes)/1024/1024).
		Float64("reclaimed_mb", float64(before.SizeBytes-after.SizeBytes)/1024/1024).
		Msg("Weekly maintenance completed")
	return nil
}

// MonthlyMaintenanceJob does the heavyweight work: vacuums every database
// and proves that the latest local backups restore cleanly.
type MonthlyMaintenanceJob struct {
	databases     map[string]*database.DB
	backupService *BackupService
	log           zerolog.Logger
}

// NewMonthlyMaintenanceJob creates the monthly maintenance job.
func NewMonthlyMaintenanceJob(databases map[string]*database.DB, backupService *BackupService, log zerolog.Logger) *MonthlyMaintenanceJob {
	return &MonthlyMaintenanceJob{
		databases:     databases,
		backupService: backupService,
		log:           log.With().Str("job", "monthly_maintenance").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *MonthlyMaintenanceJob) Name() string { return "monthly_maintenance" }

// Run implements scheduler.Job.
func (j *MonthlyMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	j.log.Info().Msg("Starting monthly maintenance")
	start := time.Now()

	for name, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.Vacuum(); err != nil {
			return fmt.Errorf("failed to vacuum %s: %w", name, err)
		}
		j.log.Debug().Str("database", name).Msg("Database vacuumed")
	}

	if err := j.verifyBackupRestore(ctx); err != nil {
		return fmt.Errorf("backup restore verification failed: %w", err)
	}

	j.log.Info().Dur("duration", time.Since(start)).Msg("Monthly maintenance completed")
	return nil
}

// verifyBackupRestore copies the latest local snapshots to a scratch
// directory and integrity-checks the copies, proving the backups are
// actually restorable rather than just present.
func (j *MonthlyMaintenanceJob) verifyBackupRestore(ctx context.Context) error {
	if j.backupService == nil {
		return nil
	}

	dir, err := j.backupService.LatestDailyDir()
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "quasar-restore-check-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, name := range j.backupService.GetDatabaseNames(true) {
		src := filepath.Join(dir, name+".db")
		dst := filepath.Join(scratch, name+".db")

		if err := CopyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy backup of %s: %w", name, err)
		}
		if err := verifySQLiteFile(ctx, dst); err != nil {
			return fmt.Errorf("restored copy of %s failed integrity check: %w", name, err)
		}
	}

	j.log.Info().Str("backup_dir", dir).Msg("Backup restore verification passed")
	return nil
}
