package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRemote(t *testing.T) {
	t.Setenv("REMOTE_BASE_URL", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_BASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REMOTE_BASE_URL", "https://api.example.com/")
	t.Setenv("DATA_DIR", dir)
	for _, key := range []string{"DB_DRIVER", "DB_DSN", "LISTEN_ADDR", "CHANNEL_BACKEND", "KV_BACKEND", "LOCATION_SHARE_INTERVAL", "REMOTE_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 15, cfg.Remote.Timeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "fieldsync.db"), cfg.Database.DSN)
	assert.Equal(t, "127.0.0.1:3211", cfg.Listen)
	assert.Equal(t, "local", cfg.Channel.Backend)
	assert.Equal(t, "db", cfg.KV.Backend)
	assert.Equal(t, filepath.Join(dir, "kv.json"), cfg.KV.File)
	assert.Zero(t, cfg.Location.ShareInterval)
	assert.Equal(t, "/api/technician-locations", cfg.Location.SharePath)
	assert.Equal(t, 25.0, cfg.Location.MinDistance)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "agent.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TENANT_ID=acme\nCHANNEL_BACKEND=nats\n"), 0o600))

	t.Setenv("REMOTE_BASE_URL", "http://localhost:9000")
	// godotenv never overrides variables that are already set
	t.Setenv("TENANT_ID", "")
	os.Unsetenv("TENANT_ID")
	t.Setenv("CHANNEL_BACKEND", "ws")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Session.TenantID)
	assert.Equal(t, "ws", cfg.Channel.Backend)
}

func TestSyncConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"auto_sync_interval": 60,
		"collections": {"work_orders": {"enabled": true, "path": "/v2/jobs", "priority": 10}}
	}`), 0o600))
	t.Setenv("SYNC_CONFIG_PATH", path)
	t.Setenv("SYNC_ENABLED", "")

	cfg := LoadSyncConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 60, cfg.AutoSyncInterval)
	assert.Equal(t, "/v2/jobs", cfg.Collections["work_orders"].Path)
	// Collections not named in the file keep their defaults
	assert.Equal(t, "/api/expenses", cfg.Collections["expenses"].Path)
}

func TestSyncConfigFallsBackOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	t.Setenv("SYNC_CONFIG_PATH", path)
	t.Setenv("SYNC_AUTO_INTERVAL", "")

	cfg := LoadSyncConfig()
	assert.Equal(t, 300, cfg.AutoSyncInterval)
	assert.Contains(t, cfg.Collections, "expenses")
	assert.False(t, cfg.Collections["photos"].Enabled)
}

func TestSyncConfigRetryDelays(t *testing.T) {
	t.Setenv("SYNC_CONFIG_PATH", "")
	t.Setenv("SYNC_RETRY_BASE", "")
	t.Setenv("SYNC_RETRY_MAX", "")
	cfg := LoadSyncConfig()
	assert.Equal(t, 60, cfg.RetryBaseDelay)
	assert.Equal(t, 3600, cfg.RetryMaxDelay)

	t.Setenv("SYNC_RETRY_BASE", "5")
	t.Setenv("SYNC_RETRY_MAX", "300")
	cfg = LoadSyncConfig()
	assert.Equal(t, 5, cfg.RetryBaseDelay)
	assert.Equal(t, 300, cfg.RetryMaxDelay)
}
