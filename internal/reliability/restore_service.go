package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // CGO-free driver for verifying extracted files
)

// pendingRestoreMarker sits at the data directory root while a staged
// restore waits to be applied on the next startup.
const pendingRestoreMarker = "pending-restore.json"

// RestoreService downloads a backup archive from R2 and stages its
// contents locally. A running service never touches its live database
// files: the staged copies are verified, marked pending, and swapped in
// on the next startup before any database is opened.
type RestoreService struct {
	r2Client *R2Client
	dataDir  string
	log      zerolog.Logger
}

// RestoreResult describes a staged restore.
type RestoreResult struct {
	StagingDir string         `json:"staging_dir"`
	Metadata   BackupMetadata `json:"metadata"`
	Verified   []string       `json:"verified"`
}

// pendingRestore is the marker file contents.
type pendingRestore struct {
	StagingDir  string    `json:"staging_dir"`
	Archive     string    `json:"archive"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRestoreService creates a restore service rooted at dataDir.
func NewRestoreService(r2Client *R2Client, dataDir string, log zerolog.Logger) *RestoreService {
	return &RestoreService{
		r2Client: r2Client,
		dataDir:  dataDir,
		log:      log.With().Str("service", "restore").Logger(),
	}
}

// RestoreToStaging downloads the named archive, extracts it under
// dataDir/restore-staging/<timestamp>, and verifies every database file
// against the archived checksums plus an integrity check. On any failure
// the staging directory is removed.
func (s *RestoreService) RestoreToStaging(ctx context.Context, archiveName string) (*RestoreResult, error) {
	if !strings.HasPrefix(archiveName, backupPrefix) || !strings.HasSuffix(archiveName, ".tar.gz") {
		return nil, fmt.Errorf("not a backup archive: %s", archiveName)
	}

	s.log.Info().Str("archive", archiveName).Msg("Starting restore to staging")

	stagingDir := filepath.Join(s.dataDir, "restore-staging", time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	result, err := s.restoreInto(ctx, archiveName, stagingDir)
	if err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}

	if err := s.markPending(stagingDir, archiveName); err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}

	s.log.Info().
		Str("archive", archiveName).
		Str("staging_dir", stagingDir).
		Int("databases", len(result.Verified)).
		Msg("Restore staged and verified; it will be applied on the next startup")
	return result, nil
}

// markPending records the staged restore in the marker file. A previously
// staged restore is superseded and its staging directory removed.
func (s *RestoreService) markPending(stagingDir, archiveName string) error {
	markerPath := filepath.Join(s.dataDir, pendingRestoreMarker)

	if previous, err := s.readPending(); err == nil && previous.StagingDir != stagingDir {
		os.RemoveAll(previous.StagingDir)
	}

	data, err := json.MarshalIndent(pendingRestore{
		StagingDir:  stagingDir,
		Archive:     archiveName,
		RequestedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode restore marker: %w", err)
	}
	if err := os.WriteFile(markerPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write restore marker: %w", err)
	}
	return nil
}

func (s *RestoreService) readPending() (pendingRestore, error) {
	var pending pendingRestore

	data, err := os.ReadFile(filepath.Join(s.dataDir, pendingRestoreMarker))
	if err != nil {
		return pending, err
	}
	if err := json.Unmarshal(data, &pending); err != nil {
		return pending, fmt.Errorf("failed to parse restore marker: %w", err)
	}
	return pending, nil
}

// CheckPendingRestore reports whether a staged restore is waiting to be
// applied.
func (s *RestoreService) CheckPendingRestore() (bool, error) {
	_, err := os.Stat(filepath.Join(s.dataDir, pendingRestoreMarker))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExecuteStagedRestore swaps the staged database files into place. It must
// run before any database connection is opened. The files being replaced
// are copied aside first, so a half-applied restore can be recovered by
// hand.
func (s *RestoreService) ExecuteStagedRestore() error {
	pending, err := s.readPending()
	if err != nil {
		return fmt.Errorf("failed to read restore marker: %w", err)
	}

	metadata, err := readMetadata(filepath.Join(pending.StagingDir, metadataFilename))
	if err != nil {
		return err
	}

	s.log.Warn().
		Str("archive", pending.Archive).
		Str("staging_dir", pending.StagingDir).
		Msg("Applying staged restore")

	safetyDir := filepath.Join(s.dataDir, "backups", "pre-restore-"+time.Now().Format("20060102-150405"))
	for _, db := range metadata.Databases {
		stagedPath := filepath.Join(pending.StagingDir, db.Filename)
		livePath := filepath.Join(s.dataDir, db.Filename)

		if _, err := os.Stat(stagedPath); err != nil {
			return fmt.Errorf("staged file missing for %s: %w", db.Name, err)
		}

		if _, err := os.Stat(livePath); err == nil {
			if err := CopyFile(livePath, filepath.Join(safetyDir, db.Filename)); err != nil {
				return fmt.Errorf("failed to preserve current %s: %w", db.Name, err)
			}
		}

		if err := CopyFile(stagedPath, livePath); err != nil {
			return fmt.Errorf("failed to restore %s: %w", db.Name, err)
		}

		// Stale WAL or shm files would resurrect pre-restore pages.
		os.Remove(livePath + "-wal")
		os.Remove(livePath + "-shm")

		s.log.Info().Str("database", db.Name).Msg("Database restored from staged backup")
	}

	if err := os.Remove(filepath.Join(s.dataDir, pendingRestoreMarker)); err != nil {
		return fmt.Errorf("failed to remove restore marker: %w", err)
	}
	os.RemoveAll(pending.StagingDir)

	s.log.Info().
		Str("archive", pending.Archive).
		Int("databases", len(metadata.Databases)).
		Msg("Staged restore applied")
	return nil
}

func (s *RestoreService) restoreInto(ctx context.Context, archiveName, stagingDir string) (*RestoreResult, error) {
	archivePath := filepath.Join(stagingDir, archiveName)
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := s.r2Client.Download(ctx, archiveName, archiveFile); err != nil {
		archiveFile.Close()
		return nil, err
	}
	if err := archiveFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close downloaded archive: %w", err)
	}

	if err := extractArchive(archivePath, stagingDir); err != nil {
		return nil, fmt.Errorf("failed to extract archive: %w", err)
	}
	if err := os.Remove(archivePath); err != nil {
		return nil, fmt.Errorf("failed to remove downloaded archive: %w", err)
	}

	metadata, err := readMetadata(filepath.Join(stagingDir, metadataFilename))
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{StagingDir: stagingDir, Metadata: metadata}
	for _, db := range metadata.Databases {
		dbPath := filepath.Join(stagingDir, db.Filename)

		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum restored %s: %w", db.Name, err)
		}
		if checksum != db.Checksum {
			return nil, fmt.Errorf("checksum mismatch for %s: archive says %s, file is %s", db.Name, db.Checksum, checksum)
		}
		if err := verifySQLiteFile(ctx, dbPath); err != nil {
			return nil, fmt.Errorf("restored %s failed integrity check: %w", db.Name, err)
		}
		result.Verified = append(result.Verified, db.Name)
	}
	return result, nil
}

func readMetadata(path string) (BackupMetadata, error) {
	var metadata BackupMetadata

	data, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("archive has no metadata: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse backup metadata: %w", err)
	}
	return metadata, nil
}

// verifySQLiteFile opens a database file read-only and runs an integrity
// check on it.
func verifySQLiteFile(ctx context.Context, path string) error {
	conn, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}

// extractArchive unpacks a tar.gz archive into destDir. Entries that would
// escape destDir are rejected.
func extractArchive(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return err
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Clean(header.Name)
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry escapes staging directory: %s", header.Name)
		}

		destPath := filepath.Join(destDir, name)
		if err := writeExtracted(destPath, tarReader, header.FileInfo().Mode()); err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
	}
}

func writeExtracted(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return out.Sync()
}
