/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application
 * dependencies. The Container is the single source of truth for all
 * service instances and is passed to the server for access to services.
 */
package di

import (
	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/database"
	"github.com/aristath/quasar/internal/modules/pec"
	"github.com/aristath/quasar/internal/modules/representations"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/aristath/quasar/internal/reliability"
	"github.com/aristath/quasar/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * The container is created by Wire() and passed to the HTTP server and
 * the scheduler registration.
 *
 * Architecture:
 * - Databases: runs (durable estimation history) and cache (recomputable
 *   solver results), each SQLite with WAL mode and profile-specific PRAGMAs
 * - Repositories: data access layer over the two databases
 * - Services: representation solving, run recording, and estimation
 *   orchestration
 * - Reliability: local snapshots plus optional R2 cloud backups
 */
type Container struct {
	// Databases
	RunsDB  *database.DB // Durable estimation runs and their sample data
	CacheDB *database.DB // Ephemeral solver results, safe to wipe

	// Repositories - data access layer
	RunsRepo  *runs.Repository  // Run persistence
	CacheRepo *cache.Repository // Keyed blob cache with TTLs

	// Services - business logic layer
	RepresentationsService *representations.Service // Quasi-probability representation solver
	RunsService            *runs.Service            // Run recording and retrieval
	PECService             *pec.Service             // End-to-end mitigated estimation

	// Reliability - backups and maintenance
	BackupService   *reliability.BackupService   // Local VACUUM INTO snapshots
	R2Client        *reliability.R2Client        // Cloudflare R2 transport (nil unless configured)
	R2BackupService *reliability.R2BackupService // Cloud backup orchestration (nil unless configured)
	RestoreService  *reliability.RestoreService  // Staged restore from R2 (nil unless configured)

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// Close releases every database held by the container.
func (c *Container) Close() {
	if c.RunsDB != nil {
		c.RunsDB.Close()
	}
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
}
