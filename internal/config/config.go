// Package config loads service configuration from the environment, with
// optional .env file overrides and runtime reload of the log level.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration for the statview server.
type Config struct {
	ListenHost string
	ListenPort int
	DataDir    string

	// ServerID labels the locally collected samples. Defaults to the
	// hostname when unset.
	ServerID string

	CollectionInterval time.Duration

	LogLevel  string
	LogFormat string

	RetentionRaw    time.Duration
	RetentionMinute time.Duration
	RetentionHourly time.Duration
	RetentionDaily  time.Duration
}

// Load reads configuration from the environment. A .env file in the data
// directory (or the working directory, for development) is loaded first so
// deployments can keep overrides next to the database.
func Load() (*Config, error) {
	dataDir := "/var/lib/statview"
	if dir := os.Getenv("STATVIEW_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try the current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		ListenHost:         "0.0.0.0",
		ListenPort:         7654,
		DataDir:            dataDir,
		CollectionInterval: 10 * time.Second,
		LogLevel:           "info",
		LogFormat:          "auto",
		RetentionRaw:       2 * time.Hour,
		RetentionMinute:    24 * time.Hour,
		RetentionHourly:    7 * 24 * time.Hour,
		RetentionDaily:     90 * 24 * time.Hour,
	}

	cfg.ListenHost = envString("STATVIEW_HOST", cfg.ListenHost)
	cfg.ListenPort = envInt("STATVIEW_PORT", cfg.ListenPort)
	cfg.ServerID = envString("STATVIEW_SERVER_ID", cfg.ServerID)
	cfg.CollectionInterval = envDuration("STATVIEW_COLLECT_INTERVAL", cfg.CollectionInterval)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.RetentionRaw = envDuration("STATVIEW_RETENTION_RAW", cfg.RetentionRaw)
	cfg.RetentionMinute = envDuration("STATVIEW_RETENTION_MINUTE", cfg.RetentionMinute)
	cfg.RetentionHourly = envDuration("STATVIEW_RETENTION_HOURLY", cfg.RetentionHourly)
	cfg.RetentionDaily = envDuration("STATVIEW_RETENTION_DAILY", cfg.RetentionDaily)

	if cfg.ServerID == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.ServerID = hostname
		}
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
