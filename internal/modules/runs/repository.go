package runs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles run persistence in runs.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new runs repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}
}

// Create inserts a new run record.
func (r *Repository) Create(run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO runs (
			id, created_at, circuit, circuit_key, qubits, observable,
			noise_level, one_norm, num_samples, seed,
			pec_value, pec_std, pec_error, raw_value, duration_ms, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(
		query,
		run.ID,
		run.CreatedAt.Unix(),
		run.Circuit,
		run.CircuitKey,
		run.Qubits,
		run.Observable,
		run.NoiseLevel,
		run.OneNorm,
		run.NumSamples,
		run.Seed,
		run.PECValue,
		run.PECStd,
		run.PECError,
		run.RawValue,
		run.DurationMS,
		run.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	return nil
}

// GetByID returns a run including its estimator data blob.
// Returns nil, nil if no run with that ID exists.
func (r *Repository) GetByID(id string) (*Run, error) {
	query := `
		SELECT id, created_at, circuit, circuit_key, qubits, observable,
		       noise_level, one_norm, num_samples, seed,
		       pec_value, pec_std, pec_error, raw_value, duration_ms, data
		FROM runs WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRow(query, id), true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs ordered newest first. The estimator data blob is not
// loaded; use GetByID for the full record.
func (r *Repository) List(limit, offset int) ([]Run, error) {
	query := `
		SELECT id, created_at, circuit, circuit_key, qubits, observable,
		       noise_level, one_norm, num_samples, seed,
		       pec_value, pec_std, pec_error, raw_value, duration_ms
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

// Count returns the total number of stored runs.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Delete removes a run. Returns false if no run with that ID existed.
func (r *Repository) Delete(id string) (bool, error) {
	result, err := r.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteOlderThan removes runs created before the cutoff and returns the
// number deleted.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM runs WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner lets scanRun work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner, withData bool) (*Run, error) {
	var (
		run       Run
		createdAt int64
		seed      sql.NullInt64
		rawValue  sql.NullFloat64
	)

	dest := []interface{}{
		&run.ID, &createdAt, &run.Circuit, &run.CircuitKey, &run.Qubits, &run.Observable,
		&run.NoiseLevel, &run.OneNorm, &run.NumSamples, &seed,
		&run.PECValue, &run.PECStd, &run.PECError, &rawValue, &run.DurationMS,
	}
	if withData {
		dest = append(dest, &run.Data)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if seed.Valid {
		run.Seed = &seed.Int64
	}
	if rawValue.Valid {
		run.RawValue = &rawValue.Float64
	}
	return &run, nil
}
