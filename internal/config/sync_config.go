package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled bool `json:"enabled"`

	// ============ SCHEDULING ============
	AutoSyncEnabled     bool `json:"auto_sync_enabled"`
	AutoSyncInterval    int  `json:"auto_sync_interval"` // seconds
	SyncOnStartup       bool `json:"sync_on_startup"`
	HealthCheckInterval int  `json:"health_check_interval"` // seconds

	// ============ LIMITS ============
	SyncTimeout     int `json:"sync_timeout"` // seconds
	ParallelWorkers int `json:"parallel_workers"`

	// ============ RETRIES ============
	// A write that failed transiently waits 2^retries * RetryBaseDelay,
	// capped at RetryMaxDelay. 0 retries on every pass.
	RetryBaseDelay int `json:"retry_base_delay"` // seconds
	RetryMaxDelay  int `json:"retry_max_delay"`  // seconds

	// ============ COLLECTIONS ============
	Collections map[string]CollectionSyncConfig `json:"collections"`
}

// CollectionSyncConfig holds pull configuration for one collection
type CollectionSyncConfig struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path"`     // remote snapshot endpoint
	Priority int    `json:"priority"` // 1-10, where 10 = merged first
}

// LoadSyncConfig loads sync configuration from environment or file
func LoadSyncConfig() *SyncConfig {
	// Try to load from file first
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		cfg, err := loadSyncConfigFromFile(configPath)
		if err == nil {
			return cfg
		}
		log.Printf("⚠️ Ignoring sync config %s: %v", configPath, err)
	}

	// Otherwise use defaults
	return DefaultSyncConfig()
}

// loadSyncConfigFromFile loads sync config from JSON file on top of defaults
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSyncConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultSyncConfig returns default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled: getBoolEnv("SYNC_ENABLED", true),

		AutoSyncEnabled:     getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval:    getIntEnv("SYNC_AUTO_INTERVAL", 300),
		SyncOnStartup:       getBoolEnv("SYNC_ON_STARTUP", true),
		HealthCheckInterval: getIntEnv("SYNC_HEALTH_INTERVAL", 30),

		SyncTimeout:     getIntEnv("SYNC_TIMEOUT", 300),
		ParallelWorkers: getIntEnv("SYNC_WORKERS", 2),

		RetryBaseDelay: getIntEnv("SYNC_RETRY_BASE", 60),
		RetryMaxDelay:  getIntEnv("SYNC_RETRY_MAX", 3600),

		Collections: getDefaultCollectionConfigs(),
	}
}

// getDefaultCollectionConfigs returns default pull configs
func getDefaultCollectionConfigs() map[string]CollectionSyncConfig {
	return map[string]CollectionSyncConfig{
		"work_orders": {
			Enabled:  true,
			Path:     "/api/work-orders",
			Priority: 10,
		},
		"customer_snapshots": {
			Enabled:  true,
			Path:     "/api/customers/snapshots",
			Priority: 9,
		},
		"equipment": {
			Enabled:  true,
			Path:     "/api/equipment",
			Priority: 8,
		},
		"checklists": {
			Enabled:  true,
			Path:     "/api/checklists",
			Priority: 8,
		},
		"checklist_responses": {
			Enabled:  true,
			Path:     "/api/checklist-responses",
			Priority: 7,
		},
		"standard_weights": {
			Enabled:  true,
			Path:     "/api/standard-weights",
			Priority: 6,
		},
		"expenses": {
			Enabled:  true,
			Path:     "/api/expenses",
			Priority: 5,
		},
		"chat_messages": {
			Enabled:  true,
			Path:     "/api/chat/messages",
			Priority: 4,
		},

		// Upload-only: the device is the source of these, pulls are disabled
		"photos": {
			Enabled:  false,
			Path:     "/api/photos",
			Priority: 2,
		},
		"signatures": {
			Enabled:  false,
			Path:     "/api/signatures",
			Priority: 2,
		},
	}
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
