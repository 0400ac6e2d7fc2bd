package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/quasar/internal/database"
	"github.com/rs/zerolog"
)

// dailyDirLayout names dated backup directories, e.g. backups/daily/2026-08-23.
const dailyDirLayout = "2006-01-02"

// BackupService creates local snapshots of the service databases using
// SQLite's VACUUM INTO, which produces a consistent copy without blocking
// writers for the duration of the copy.
type BackupService struct {
	databases map[string]*database.DB
	backupDir string
	log       zerolog.Logger
}

// NewBackupService creates a backup service over the given databases.
// The map key is the database name as it appears in backup archives.
func NewBackupService(databases map[string]*database.DB, backupDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		backupDir: backupDir,
		log:       log.With().Str("component", "backup_service").Logger(),
	}
}

// GetDatabaseNames returns the names of all databases eligible for backup,
// sorted for deterministic archive layout. The cache database holds
// recomputable data and is excluded unless includeCache is set.
func (s *BackupService) GetDatabaseNames(includeCache bool) []string {
	names := make([]string, 0, len(s.databases))
	for name, db := range s.databases {
		if db == nil {
			continue
		}
		if name == "cache" && !includeCache {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase snapshots one database to destPath. Any stale file at
// destPath is removed first because VACUUM INTO refuses to overwrite.
func (s *BackupService) BackupDatabase(name, destPath string) error {
	db, ok := s.databases[name]
	if !ok || db == nil {
		return fmt.Errorf("unknown database: %s", name)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale backup %s: %w", destPath, err)
	}

	start := time.Now()
	escaped := strings.ReplaceAll(destPath, "'", "''")
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return fmt.Errorf("failed to back up %s: %w", name, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return fmt.Errorf("backup of %s did not produce a file: %w", name, err)
	}

	s.log.Info().
		Str("database", name).
		Float64("size_mb", float64(info.Size())/1024/1024).
		Dur("duration", time.Since(start)).
		Msg("Database backed up")
	return nil
}

// CreateDailyBackups snapshots every database into a directory named after
// today's date. Re-running on the same day overwrites that day's snapshots.
func (s *BackupService) CreateDailyBackups(ctx context.Context) error {
	dir := filepath.Join(s.backupDir, "daily", time.Now().Format(dailyDirLayout))

	for _, name := range s.GetDatabaseNames(true) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.BackupDatabase(name, filepath.Join(dir, name+".db")); err != nil {
			return err
		}
	}

	s.log.Info().Str("dir", dir).Msg("Daily backups created")
	return nil
}

// PruneDailyBackups removes dated backup directories older than keepDays.
// keepDays <= 0 keeps everything.
func (s *BackupService) PruneDailyBackups(keepDays int) error {
	if keepDays <= 0 {
		return nil
	}

	dailyDir := filepath.Join(s.backupDir, "daily")
	entries, err := os.ReadDir(dailyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	pruned := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse(dailyDirLayout, entry.Name())
		if err != nil {
			// Not one of ours; leave it alone.
			continue
		}
		if day.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(dailyDir, entry.Name())); err != nil {
				return fmt.Errorf("failed to prune backup %s: %w", entry.Name(), err)
			}
			pruned++
		}
	}

	if pruned > 0 {
		s.log.Info().Int("pruned", pruned).Int("keep_days", keepDays).Msg("Old daily backups pruned")
	}
	return nil
}

// LatestDailyDir returns the most recent dated backup directory, or an
// error if no daily backups exist yet.
func (s *BackupService) LatestDailyDir() (string, error) {
	dailyDir := filepath.Join(s.backupDir, "daily")
	entries, err := os.ReadDir(dailyDir)
	if err != nil {
		return "", fmt.Errorf("no daily backups found: %w", err)
	}

	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(dailyDirLayout, entry.Name()); err != nil {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no daily backups found in %s", dailyDir)
	}
	return filepath.Join(dailyDir, latest), nil
}

// BackupDir returns the root directory for local backups.
func (s *BackupService) BackupDir() string {
	return s.backupDir
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Sync()
}
