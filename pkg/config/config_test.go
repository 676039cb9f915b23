package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.Equal(t, ":8080", cfg.API.Addr())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: DEBUG
  format: json
shutdown_timeout: 5s
database:
  type: sqlite
  sqlite:
    path: /tmp/test.db
blob:
  token: bot-token
  channel_id: "123"
api:
  port: 9999
reconcile:
  interval: 10m
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "bot-token", cfg.Blob.Token)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.Interval)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "LOUD"
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.API.Port = 70000
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Auth.JWTSecret = "short"
	assert.Error(t, Validate(cfg))
}

func TestSaveAndReload(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"
	cfg.Blob.ChannelID = "42"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", loaded.Logging.Level)
	assert.Equal(t, "42", loaded.Blob.ChannelID)
}
