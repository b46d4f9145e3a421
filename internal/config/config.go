package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend selects how the sync engine reaches the remote attendance store.
const (
	BackendHTTP     = "http"     // cloud HR API via REST
	BackendPostgres = "postgres" // direct upserts into the HR database
)

// DatabaseConfig is the connection config for the postgres backend.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN returns the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config is the full service configuration, loaded from environment variables.
type Config struct {
	// Backend: "http" or "postgres"
	Backend string

	Database DatabaseConfig

	API struct {
		BaseURL    string // cloud HR API base URL (http backend)
		Key        string
		TimeoutSec int
	}

	Store struct {
		DBPath   string // sqlite file holding the local batch queue
		PhotoDir string // root directory for batch-keyed local photos
	}

	Sync struct {
		DrainIntervalSec   int  // background drain period
		WriteTimeoutSec    int  // per remote write / photo upload bound
		InlineFirstAttempt bool // run the first sync attempt right after enqueue
	}

	Photo struct {
		MaxDimension int // longest edge after re-encode
		JPEGQuality  int
	}

	Tenant struct {
		ID string
	}

	Supervisor struct {
		ID   string
		Name string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Backend = getEnv("SYNC_BACKEND", BackendHTTP)
	if cfg.Backend != BackendHTTP && cfg.Backend != BackendPostgres {
		return nil, fmt.Errorf("invalid SYNC_BACKEND %q", cfg.Backend)
	}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hrpayroll")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 4)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:8080")
	cfg.API.Key = getEnv("API_KEY", "")
	cfg.API.TimeoutSec = getEnvInt("API_TIMEOUT_SEC", 30)

	cfg.Store.DBPath = getEnv("BATCH_DB_PATH", "crewclock.db")
	cfg.Store.PhotoDir = getEnv("PHOTO_DIR", "photos")

	cfg.Sync.DrainIntervalSec = getEnvInt("SYNC_DRAIN_INTERVAL_SEC", 60)
	cfg.Sync.WriteTimeoutSec = getEnvInt("SYNC_WRITE_TIMEOUT_SEC", 15)
	cfg.Sync.InlineFirstAttempt = getEnv("SYNC_INLINE_FIRST_ATTEMPT", "true") == "true"

	cfg.Photo.MaxDimension = getEnvInt("PHOTO_MAX_DIMENSION", 1280)
	cfg.Photo.JPEGQuality = getEnvInt("PHOTO_JPEG_QUALITY", 80)

	cfg.Tenant.ID = getEnv("TENANT_ID", "")
	cfg.Supervisor.ID = getEnv("SUPERVISOR_ID", "")
	cfg.Supervisor.Name = getEnv("SUPERVISOR_NAME", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
