// Package runs persists completed estimation runs. Each run records the
// circuit, observable and noise configuration together with the mitigated
// result and the full per-sample estimator arrays, stored as a msgpack
// blob in runs.db.
package runs

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one completed estimation run.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Circuit    string    `json:"circuit"`     // Human-readable circuit description
	CircuitKey string    `json:"circuit_key"` // Content hash of the circuit
	Qubits     int       `json:"qubits"`
	Observable string    `json:"observable"`
	NoiseLevel float64   `json:"noise_level"`
	OneNorm    float64   `json:"one_norm"`
	NumSamples int       `json:"num_samples"`
	Seed       *int64    `json:"seed,omitempty"`
	PECValue   float64   `json:"pec_value"`
	PECStd     float64   `json:"pec_std"`
	PECError   float64   `json:"pec_error"`
	RawValue   *float64  `json:"raw_value,omitempty"` // Unmitigated expectation, when measured
	DurationMS int64     `json:"duration_ms"`
	Data       []byte    `json:"-"` // msgpack-encoded estimation.Data, nil in listings
}

// InitSchema creates the runs tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL,
		circuit     TEXT NOT NULL,
		circuit_key TEXT NOT NULL,
		qubits      INTEGER NOT NULL,
		observable  TEXT NOT NULL,
		noise_level REAL NOT NULL,
		one_norm    REAL NOT NULL,
		num_samples INTEGER NOT NULL,
		seed        INTEGER,
		pec_value   REAL NOT NULL,
		pec_std     REAL NOT NULL,
		pec_error   REAL NOT NULL,
		raw_value   REAL,
		duration_ms INTEGER NOT NULL,
		data        BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_circuit_key ON runs(circuit_key);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize runs schema: %w", err)
	}
	return nil
}
