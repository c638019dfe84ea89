package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(common.EnvDataDir, t.TempDir())
	t.Setenv(common.EnvServer, "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, common.APIServer, cfg.Server)
	require.Equal(t, common.RequestTimeout*time.Second, cfg.RequestTimeout)
	require.True(t, cfg.SchemaValidation)
	require.False(t, cfg.Debug)
	require.Equal(t, common.SyncMaxDelayMs*time.Millisecond, cfg.SyncMaxDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(common.EnvDataDir, dir)
	t.Setenv(common.EnvServer, "http://localhost:8080/api/")
	t.Setenv(common.EnvDebug, "true")
	t.Setenv(common.EnvUsername, "alice")
	t.Setenv(common.EnvPassword, "hunter2")
	t.Setenv(common.EnvSyncMaxDelay, "10")
	t.Setenv(common.EnvSchemaValidation, "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/api", cfg.Server)
	require.Equal(t, dir, cfg.DataDir)
	require.True(t, cfg.Debug)
	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, "hunter2", cfg.Password)
	require.False(t, cfg.SchemaValidation)
	require.Equal(t, common.SyncBaseDelayMs*time.Millisecond, cfg.SyncMaxDelay)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(common.EnvServer, "")
	t.Setenv(common.EnvRequestTimeout, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: http://file-server\nrequest_timeout: 5\nschema_validation: false\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://file-server", cfg.Server)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.False(t, cfg.SchemaValidation)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultDataDir(t *testing.T) {
	t.Parallel()

	dir, err := DefaultDataDir()
	require.NoError(t, err)
	require.Equal(t, ".mimiri", filepath.Base(dir))
}
