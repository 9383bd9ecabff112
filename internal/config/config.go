package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rounds/internal/models"
)

// Config holds all daemon configuration
type Config struct {
	Host    string // bind address; the daemon is local-first, default loopback
	Port    string
	DataDir string

	// Storage driver selection: "file", "memory", "sqlite" or "redis"
	StorageDriver string
	RedisURL      string

	// Ward stamped on quick-adds that omit one
	DefaultWard string

	// Session retention policy
	SessionMaxBytes int64
	CheckedTTL      time.Duration
	UncheckedTTL    time.Duration
	SweepInterval   time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Host:    getEnv("ROUNDS_HOST", "127.0.0.1"),
		Port:    getEnv("ROUNDS_PORT", "5858"),
		DataDir: getEnv("ROUNDS_DATA_DIR", defaultDataDir()),

		StorageDriver: getEnv("ROUNDS_STORAGE_DRIVER", "file"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),

		DefaultWard: getEnv("ROUNDS_DEFAULT_WARD", models.DefaultWard),

		SessionMaxBytes: int64(getIntEnv("ROUNDS_SESSION_MAX_BYTES", 5*1024*1024)),
		CheckedTTL:      getDurationEnv("ROUNDS_CHECKED_TTL", 24*time.Hour),
		UncheckedTTL:    getDurationEnv("ROUNDS_UNCHECKED_TTL", 7*24*time.Hour),
		SweepInterval:   getDurationEnv("ROUNDS_SWEEP_INTERVAL", time.Hour),
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// SQLitePath returns the sqlite database location inside the data dir.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "rounds.db")
}

// fileConfig is the optional config.json in the data dir. Only fields the
// user actually set override the environment-derived values.
type fileConfig struct {
	Port            string `json:"port,omitempty"`
	DefaultWard     string `json:"default_ward,omitempty"`
	StorageDriver   string `json:"storage_driver,omitempty"`
	RedisURL        string `json:"redis_url,omitempty"`
	SessionMaxBytes int64  `json:"session_max_bytes,omitempty"`
}

// ApplyFile overlays config.json from the data dir when present. A missing
// file is not an error; a malformed one is.
func (c *Config) ApplyFile() error {
	path := filepath.Join(c.DataDir, "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.DefaultWard != "" {
		c.DefaultWard = fc.DefaultWard
	}
	if fc.StorageDriver != "" {
		c.StorageDriver = fc.StorageDriver
	}
	if fc.RedisURL != "" {
		c.RedisURL = fc.RedisURL
	}
	if fc.SessionMaxBytes > 0 {
		c.SessionMaxBytes = fc.SessionMaxBytes
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rounds"
	}
	return filepath.Join(home, ".rounds")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
