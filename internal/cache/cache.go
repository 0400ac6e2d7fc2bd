// Package cache provides persistent caching for expensive calculation
// results. Payloads are stored as opaque blobs with expiration timestamps,
// keyed by a category plus a content hash.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InitSchema creates the cache tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		category   TEXT NOT NULL,
		cache_key  TEXT NOT NULL,
		data       BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (category, cache_key)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Repository provides cache operations backed by cache.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "cache").Logger(),
	}
}

// Key derives a cache key from the given parts. The parts are hashed so
// callers can feed arbitrarily long content strings.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])[:16]
}

// Store saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(category, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO cache_entries (category, cache_key, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		category, key, data, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s/%s: %w", category, key, err)
	}
	return nil
}

// GetIfFresh returns data only if it exists and has not expired. Lookup
// errors are logged and reported as misses so callers can always fall back
// to recomputing.
func (r *Repository) GetIfFresh(category, key string) ([]byte, bool) {
	var data []byte
	err := r.db.QueryRow(
		"SELECT data FROM cache_entries WHERE category = ? AND cache_key = ? AND expires_at > ?",
		category, key, time.Now().Unix(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		r.log.Warn().Err(err).Str("category", category).Str("key", key).Msg("Cache lookup failed")
		return nil, false
	}
	return data, true
}

// Delete removes a single cache entry.
func (r *Repository) Delete(category, key string) error {
	_, err := r.db.Exec(
		"DELETE FROM cache_entries WHERE category = ? AND cache_key = ?",
		category, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s/%s: %w", category, key, err)
	}
	return nil
}

// DeleteExpired removes all expired entries and returns the number deleted.
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(
		"DELETE FROM cache_entries WHERE expires_at <= ?",
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of cache entries, expired or not.
func (r *Repository) Count() (int64, error) {
	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}
