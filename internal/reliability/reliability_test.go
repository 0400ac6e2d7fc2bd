package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/quasar/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestBackupService(t *testing.T) (*BackupService, map[string]*database.DB, string) {
	t.Helper()
	databases := map[string]*database.DB{
		"runs":  newTestDB(t, "runs"),
		"cache": newTestDB(t, "cache"),
	}
	backupDir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(databases, backupDir, zerolog.New(nil).Level(zerolog.Disabled))
	return svc, databases, backupDir
}

func TestGetDatabaseNames(t *testing.T) {
	svc, _, _ := newTestBackupService(t)

	assert.Equal(t, []string{"cache", "runs"}, svc.GetDatabaseNames(true))
	assert.Equal(t, []string{"runs"}, svc.GetDatabaseNames(false))
}

func TestBackupDatabaseRoundtrip(t *testing.T) {
	svc, databases, _ := newTestBackupService(t)

	_, err := databases["runs"].Exec(`CREATE TABLE samples (id INTEGER PRIMARY KEY, value REAL)`)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := databases["runs"].Exec(`INSERT INTO samples (value) VALUES (?)`, float64(i)*0.5)
		require.NoError(t, err)
	}

	destPath := filepath.Join(t.TempDir(), "runs-copy.db")
	require.NoError(t, svc.BackupDatabase("runs", destPath))

	copyConn, err := sql.Open("sqlite", destPath)
	require.NoError(t, err)
	defer copyConn.Close()

	var count int
	require.NoError(t, copyConn.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&count))
	assert.Equal(t, 10, count)

	// Re-running replaces the previous snapshot.
	require.NoError(t, svc.BackupDatabase("runs", destPath))

	err = svc.BackupDatabase("ledger", destPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database")
}

func TestDailyBackupLifecycle(t *testing.T) {
	svc, _, backupDir := newTestBackupService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateDailyBackups(ctx))

	latest, err := svc.LatestDailyDir()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(latest, "runs.db"))
	assert.FileExists(t, filepath.Join(latest, "cache.db"))

	// Fabricate an ancient snapshot and an unrelated directory.
	oldDir := filepath.Join(backupDir, "daily", "2020-01-01")
	require.NoError(t, os.MkdirAll(oldDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "runs.db"), []byte("stale"), 0644))
	miscDir := filepath.Join(backupDir, "daily", "misc")
	require.NoError(t, os.MkdirAll(miscDir, 0755))

	require.NoError(t, svc.PruneDailyBackups(7))
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, miscDir)
	assert.DirExists(t, latest)

	// Retention 0 keeps everything.
	require.NoError(t, svc.PruneDailyBackups(0))
	assert.DirExists(t, latest)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.Error(t, CopyFile(filepath.Join(dir, "missing.txt"), dst))
}

func TestArchiveRoundtrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "runs.db"), []byte("runs payload"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "cache.db"), []byte("cache payload"), 0644))

	metadata := BackupMetadata{
		Timestamp:      time.Now().UTC(),
		Version:        "1.0.0",
		ServiceVersion: "test",
		Databases: []DatabaseMetadata{
			{Name: "runs", Filename: "runs.db", SizeBytes: 12},
		},
	}
	require.NoError(t, writeMetadata(filepath.Join(srcDir, metadataFilename), metadata))

	archivePath := filepath.Join(t.TempDir(), "archive.tar.gz")
	files := []string{"runs.db", "cache.db", metadataFilename}
	require.NoError(t, createArchive(archivePath, srcDir, files))

	destDir := t.TempDir()
	require.NoError(t, extractArchive(archivePath, destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "runs.db"))
	require.NoError(t, err)
	assert.Equal(t, "runs payload", string(data))

	restored, err := readMetadata(filepath.Join(destDir, metadataFilename))
	require.NoError(t, err)
	assert.Equal(t, "test", restored.ServiceVersion)
	require.Len(t, restored.Databases, 1)
	assert.Equal(t, "runs", restored.Databases[0].Name)

	// Checksums are stable across reads of the same content.
	first, err := fileChecksum(filepath.Join(destDir, "runs.db"))
	require.NoError(t, err)
	second, err := fileChecksum(filepath.Join(srcDir, "runs.db"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "sha256:")
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "evil.tar.gz")
	archiveFile, err := os.Create(archivePath)
	require.NoError(t, err)

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)
	payload := []byte("owned")
	require.NoError(t, tarWriter.WriteHeader(&tar.Header{
		Name: "../evil.txt",
		Size: int64(len(payload)),
		Mode: 0644,
	}))
	_, err = tarWriter.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tarWriter.Close())
	require.NoError(t, gzipWriter.Close())
	require.NoError(t, archiveFile.Close())

	destDir := t.TempDir()
	err = extractArchive(archivePath, destDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes staging directory")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(destDir), "evil.txt"))
}

func TestVerifySQLiteFile(t *testing.T) {
	svc, _, _ := newTestBackupService(t)
	ctx := context.Background()

	goodPath := filepath.Join(t.TempDir(), "good.db")
	require.NoError(t, svc.BackupDatabase("runs", goodPath))
	require.NoError(t, verifySQLiteFile(ctx, goodPath))

	badPath := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(badPath, []byte("not a database at all"), 0644))
	require.Error(t, verifySQLiteFile(ctx, badPath))
}

func TestDailyMaintenanceJob(t *testing.T) {
	svc, databases, _ := newTestBackupService(t)
	dataDir := t.TempDir()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	job := NewDailyMaintenanceJob(databases, svc, dataDir, log)
	assert.Equal(t, "daily_maintenance", job.Name())
	require.NoError(t, job.Run())

	// The run must have produced verifiable local snapshots.
	latest, err := svc.LatestDailyDir()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(latest, "runs.db"))
}

func TestWeeklyMaintenanceJob(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	job := NewWeeklyMaintenanceJob(newTestDB(t, "cache"), log)
	assert.Equal(t, "weekly_maintenance", job.Name())
	require.NoError(t, job.Run())

	// A nil database is tolerated so the job can be registered
	// unconditionally.
	require.NoError(t, NewWeeklyMaintenanceJob(nil, log).Run())
}

func TestMonthlyMaintenanceJob(t *testing.T) {
	svc, databases, _ := newTestBackupService(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	require.NoError(t, svc.CreateDailyBackups(context.Background()))

	job := NewMonthlyMaintenanceJob(databases, svc, log)
	assert.Equal(t, "monthly_maintenance", job.Name())
	require.NoError(t, job.Run())
}

func TestStagedRestoreLifecycle(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	dataDir := t.TempDir()

	// Build a live database with recognizable content.
	liveDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "runs.db"),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	require.NoError(t, err)
	_, err = liveDB.Exec(`CREATE TABLE marker (generation INTEGER)`)
	require.NoError(t, err)
	_, err = liveDB.Exec(`INSERT INTO marker (generation) VALUES (1)`)
	require.NoError(t, err)

	// Snapshot generation 1 into a staging directory, as if an archive
	// had been downloaded and extracted there.
	backupSvc := NewBackupService(map[string]*database.DB{"runs": liveDB}, filepath.Join(dataDir, "backups"), log)
	stagingDir := filepath.Join(dataDir, "restore-staging", "20260101-000000")
	require.NoError(t, backupSvc.BackupDatabase("runs", filepath.Join(stagingDir, "runs.db")))

	checksum, err := fileChecksum(filepath.Join(stagingDir, "runs.db"))
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(stagingDir, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, writeMetadata(filepath.Join(stagingDir, metadataFilename), BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Databases: []DatabaseMetadata{
			{Name: "runs", Filename: "runs.db", SizeBytes: info.Size(), Checksum: checksum},
		},
	}))

	// The live database moves on before the restore is applied.
	_, err = liveDB.Exec(`UPDATE marker SET generation = 2`)
	require.NoError(t, err)
	require.NoError(t, liveDB.Close())

	restoreSvc := NewRestoreService(nil, dataDir, log)

	pending, err := restoreSvc.CheckPendingRestore()
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, restoreSvc.markPending(stagingDir, "quasar-backup-2026-01-01-000000.tar.gz"))

	pending, err = restoreSvc.CheckPendingRestore()
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, restoreSvc.ExecuteStagedRestore())

	// The live file is back at generation 1.
	conn, err := sql.Open("sqlite", filepath.Join(dataDir, "runs.db"))
	require.NoError(t, err)
	defer conn.Close()

	var generation int
	require.NoError(t, conn.QueryRow(`SELECT generation FROM marker`).Scan(&generation))
	assert.Equal(t, 1, generation)

	// The replaced file was preserved, the marker and staging are gone.
	preserved, err := filepath.Glob(filepath.Join(dataDir, "backups", "pre-restore-*", "runs.db"))
	require.NoError(t, err)
	assert.Len(t, preserved, 1)

	pending, err = restoreSvc.CheckPendingRestore()
	require.NoError(t, err)
	assert.False(t, pending)
	assert.NoDirExists(t, stagingDir)
}

func TestNewR2ClientValidatesConfig(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	_, err := NewR2Client("", "key", "secret", "bucket", log)
	require.Error(t, err)
	_, err = NewR2Client("account", "key", "secret", "", log)
	require.Error(t, err)
}

func TestCloudBackupJobName(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	job := NewCloudBackupJob(nil, 30, log)
	assert.Equal(t, "cloud_backup", job.Name())
}
