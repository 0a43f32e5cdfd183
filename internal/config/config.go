package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv  string
	DataDir  string
	Listen   string
	Database DatabaseConfig
	Remote   RemoteConfig
	Session  SessionConfig
	Channel  ChannelConfig
	KV       KVConfig
	Location LocationConfig
}

// DatabaseConfig holds local store configuration
type DatabaseConfig struct {
	Driver   string // sqlite | postgres
	DSN      string // sqlite file path or ":memory:"
	Host     string
	Port     string
	Username string
	Password string
	Database string
	DataDir  string
	Debug    bool
}

// RemoteConfig describes the remote API the outbox is replayed against
type RemoteConfig struct {
	BaseURL string
	Timeout int // seconds
}

// SessionConfig identifies the operator and device
type SessionConfig struct {
	TenantID string
	DeviceID string
	Token    string
}

// ChannelConfig selects the cross-tab invalidation transport
type ChannelConfig struct {
	Backend string // local | ws | nats | none
	HubURL  string
	NATSURL string
}

// LocationConfig controls position sharing and alert recomputation
type LocationConfig struct {
	ShareInterval int // seconds, 0 disables sharing
	SharePath     string
	MinDistance   float64 // meters
	AlertInterval int     // seconds
}

// KVConfig selects the persistent key-value backend
type KVConfig struct {
	Backend string // db | file
	File    string
}

// Load loads configuration from environment variables
func Load(envFiles ...string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(envFiles...)

	baseURL := strings.TrimRight(os.Getenv("REMOTE_BASE_URL"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		DataDir: dataDir,
		Listen:  getEnv("LISTEN_ADDR", "127.0.0.1:3211"),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			DSN:      getEnv("DB_DSN", filepath.Join(dataDir, "fieldsync.db")),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "fieldsync"),
			DataDir:  dataDir,
			Debug:    getBoolEnv("DB_DEBUG", false),
		},
		Remote: RemoteConfig{
			BaseURL: baseURL,
			Timeout: getIntEnv("REMOTE_TIMEOUT", 15),
		},
		Session: SessionConfig{
			TenantID: getEnv("TENANT_ID", "default"),
			DeviceID: getEnv("DEVICE_ID", hostname()),
			Token:    os.Getenv("API_TOKEN"),
		},
		Channel: ChannelConfig{
			Backend: getEnv("CHANNEL_BACKEND", "local"),
			HubURL:  os.Getenv("CHANNEL_HUB_URL"),
			NATSURL: getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		},
		KV: KVConfig{
			Backend: getEnv("KV_BACKEND", "db"),
			File:    getEnv("KV_FILE", filepath.Join(dataDir, "kv.json")),
		},
		Location: LocationConfig{
			ShareInterval: getIntEnv("LOCATION_SHARE_INTERVAL", 0),
			SharePath:     getEnv("LOCATION_SHARE_PATH", "/api/technician-locations"),
			MinDistance:   float64(getIntEnv("LOCATION_MIN_DISTANCE", 25)),
			AlertInterval: getIntEnv("ALERT_INTERVAL", 60),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "device"
	}
	return name
}
