// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	Port              int
	LogLevel          string
	LogFile           string // Optional log file path ("" = stdout only)
	DevMode           bool
	Workers           int     // Worker goroutines for estimation runs (0 = one per CPU)
	SimNoiseLevel     float64 // Default depolarizing probability for the built-in simulator
	RunsRetentionDays int     // Completed runs older than this are pruned (0 = keep forever)
	Backup            *BackupConfig
}

// BackupConfig holds Cloudflare R2 backup credentials.
// Backups are disabled unless all fields are set.
type BackupConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int // Cloud backups older than this are rotated out (0 = keep forever)
}

// Enabled reports whether backup credentials are fully configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil &&
		b.AccountID != "" &&
		b.AccessKeyID != "" &&
		b.SecretAccessKey != "" &&
		b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check QUASAR_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("QUASAR_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 8080),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		Workers:           getEnvAsInt("PEC_WORKERS", 0),
		SimNoiseLevel:     getEnvAsFloat("SIM_NOISE_LEVEL", 0.01),
		RunsRetentionDays: getEnvAsInt("RUNS_RETENTION_DAYS", 90),
		Backup: &BackupConfig{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			RetentionDays:   getEnvAsInt("R2_RETENTION_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("PEC_WORKERS must not be negative, got %d", c.Workers)
	}
	if c.SimNoiseLevel < 0 || c.SimNoiseLevel > 1 {
		return fmt.Errorf("SIM_NOISE_LEVEL must be in [0, 1], got %g", c.SimNoiseLevel)
	}
	if c.RunsRetentionDays < 0 {
		return fmt.Errorf("RUNS_RETENTION_DAYS must not be negative, got %d", c.RunsRetentionDays)
	}
	if c.Backup != nil && c.Backup.RetentionDays < 0 {
		return fmt.Errorf("R2_RETENTION_DAYS must not be negative, got %d", c.Backup.RetentionDays)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
