package cache

import "time"

// TTL constants for different calculation results.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLRepresentation - solved quasi-probability representations. The
	// solve is deterministic for a fixed circuit and basis, so entries
	// only need to expire to bound database growth.
	TTLRepresentation = 30 * 24 * time.Hour

	// TTLDefault - fallback for ad hoc cached calculations.
	TTLDefault = 24 * time.Hour
)
