// Package server provides the HTTP server and routing for Quasar.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/config"
	"github.com/aristath/quasar/internal/database"
	"github.com/aristath/quasar/internal/di"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/aristath/quasar/internal/reliability"
	"github.com/aristath/quasar/internal/scheduler"
	"github.com/aristath/quasar/internal/version"
)

// SystemHandlers provides monitoring and operations endpoints
type SystemHandlers struct {
	log          zerolog.Logger
	dataDir      string
	noiseLevel   float64
	workers      int
	startupTime  time.Time
	databases    map[string]*database.DB
	runsService  *runs.Service
	cacheRepo    *cache.Repository
	scheduler    *scheduler.Scheduler
	cloudBackups *reliability.R2BackupService
	restore      *reliability.RestoreService
	jobs         map[string]scheduler.Job
}

// NewSystemHandlers creates system handlers backed by the DI container
func NewSystemHandlers(log zerolog.Logger, cfg *config.Config, container *di.Container, jobs *di.JobInstances) *SystemHandlers {
	h := &SystemHandlers{
		log:          log.With().Str("handler", "system").Logger(),
		dataDir:      cfg.DataDir,
		noiseLevel:   cfg.SimNoiseLevel,
		workers:      cfg.Workers,
		startupTime:  time.Now(),
		runsService:  container.RunsService,
		cacheRepo:    container.CacheRepo,
		scheduler:    container.Scheduler,
		cloudBackups: container.R2BackupService,
		restore:      container.RestoreService,
		databases: map[string]*database.DB{
			"runs":  container.RunsDB,
			"cache": container.CacheDB,
		},
		jobs: make(map[string]scheduler.Job),
	}

	if jobs != nil {
		for _, job := range jobs.All() {
			h.jobs[job.Name()] = job
		}
	}

	return h
}

// RegisterRoutes registers system routes on the given router
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/database/stats", h.HandleDatabaseStats)
		r.Get("/disk", h.HandleDiskUsage)
		r.Get("/jobs", h.HandleJobsStatus)
		r.Post("/jobs/{name}/run", h.HandleTriggerJob)
		r.Get("/backups", h.HandleListBackups)
		r.Post("/backups/run", h.HandleTriggerBackup)
		r.Post("/backups/restore", h.HandleStageRestore)
	})
}

// SystemStatusResponse summarizes service state for monitoring
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	TotalRuns     int     `json:"total_runs"`
	CacheEntries  int64   `json:"cache_entries"`
	NoiseLevel    float64 `json:"noise_level"`
	Workers       int     `json:"workers"`
}

// HandleSystemStatus returns service health, resource usage and counters
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	totalRuns := 0
	if h.runsService != nil {
		count, err := h.runsService.Count()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count estimation runs")
		} else {
			totalRuns = count
		}
	}

	var cacheEntries int64
	if h.cacheRepo != nil {
		count, err := h.cacheRepo.Count()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count cache entries")
		} else {
			cacheEntries = count
		}
	}

	response := SystemStatusResponse{
		Status:        "running",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		TotalRuns:     totalRuns,
		CacheEntries:  cacheEntries,
		NoiseLevel:    h.noiseLevel,
		Workers:       h.workers,
	}

	h.writeJSON(w, response)
}

// DatabaseStatsInfo holds statistics for a single database
type DatabaseStatsInfo struct {
	Name          string  `json:"name"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistPages int64   `json:"freelist_pages"`
}

// DatabaseStatsResponse aggregates statistics across all databases
type DatabaseStatsResponse struct {
	Databases   []DatabaseStatsInfo `json:"databases"`
	TotalSizeMB float64             `json:"total_size_mb"`
	LastChecked string              `json:"last_checked"`
}

// HandleDatabaseStats returns size and page statistics per database
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	response := DatabaseStatsResponse{
		Databases:   make([]DatabaseStatsInfo, 0, len(names)),
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	}

	for _, name := range names {
		db := h.databases[name]
		if db == nil {
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}

		sizeMB := float64(stats.SizeBytes) / 1024 / 1024
		response.Databases = append(response.Databases, DatabaseStatsInfo{
			Name:          name,
			SizeMB:        sizeMB,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:     stats.PageCount,
			FreelistPages: stats.FreelistCount,
		})
		response.TotalSizeMB += sizeMB
	}

	h.writeJSON(w, response)
}

// DiskUsageResponse reports data directory footprint and volume headroom
type DiskUsageResponse struct {
	DataDirMB   float64 `json:"data_dir_mb"`
	BackupsMB   float64 `json:"backups_mb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// HandleDiskUsage returns disk usage for the data directory and its volume
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	response := DiskUsageResponse{
		DataDirMB: h.getDirSize(h.dataDir),
		BackupsMB: h.getDirSize(filepath.Join(h.dataDir, "backups")),
	}

	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get volume usage")
	} else {
		response.FreeGB = float64(usage.Free) / 1024 / 1024 / 1024
		response.UsedPercent = usage.UsedPercent
	}

	h.writeJSON(w, response)
}

// JobsStatusResponse lists scheduled jobs with their run times
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// HandleJobsStatus returns every scheduled job with previous and next run
// GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	statuses := []scheduler.JobStatus{}
	if h.scheduler != nil {
		statuses = h.scheduler.Status()
	}

	h.writeJSON(w, JobsStatusResponse{
		TotalJobs: len(statuses),
		Jobs:      statuses,
	})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.jobs[name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown job: %s", name), http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")

	go func() {
		if err := job.Run(); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Manually triggered job failed")
		}
	}()

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Job %s started", name),
	})
}

// BackupsResponse lists cloud backup archives
type BackupsResponse struct {
	Enabled bool                     `json:"enabled"`
	Count   int                      `json:"count"`
	Backups []reliability.BackupInfo `json:"backups"`
}

// HandleListBackups lists backup archives stored in R2, newest first
// GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.cloudBackups == nil {
		h.writeJSON(w, BackupsResponse{Enabled: false, Backups: []reliability.BackupInfo{}})
		return
	}

	backups, err := h.cloudBackups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list cloud backups")
		http.Error(w, "Failed to list backups", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, BackupsResponse{
		Enabled: true,
		Count:   len(backups),
		Backups: backups,
	})
}

// HandleTriggerBackup starts a cloud backup immediately
// POST /api/system/backups/run
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if h.cloudBackups == nil {
		h.writeJSON(w, map[string]string{
			"status":  "error",
			"message": "Cloud backups not configured",
		})
		return
	}

	h.log.Info().Msg("Manual cloud backup triggered")

	go func() {
		if err := h.cloudBackups.CreateAndUploadBackup(context.Background()); err != nil {
			h.log.Error().Err(err).Msg("Manually triggered backup failed")
		}
	}()

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": "Cloud backup started",
	})
}

// HandleStageRestore downloads and stages a backup archive for restore.
// The staged files are applied on the next service start, before any
// database is opened.
// POST /api/system/backups/restore
func (h *SystemHandlers) HandleStageRestore(w http.ResponseWriter, r *http.Request) {
	if h.restore == nil {
		h.writeJSON(w, map[string]string{
			"status":  "error",
			"message": "Cloud backups not configured",
		})
		return
	}

	var body struct {
		Archive string `json:"archive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Archive == "" {
		http.Error(w, "Request must name an archive", http.StatusBadRequest)
		return
	}

	result, err := h.restore.RestoreToStaging(r.Context(), body.Archive)
	if err != nil {
		h.log.Error().Err(err).Str("archive", body.Archive).Msg("Failed to stage restore")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"status":   "success",
		"message":  "Restore staged; it will be applied on the next service start",
		"verified": result.Verified,
	})
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a 100ms CPU sampling interval to avoid blocking the API call.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response with status 200
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
