package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl test@example.com"

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	require.NoError(t, os.Setenv(EnvVar, path))
	t.Cleanup(func() { os.Unsetenv(EnvVar) })
}

func TestLoadDefaults(t *testing.T) {
	require.NoError(t, os.Unsetenv(EnvVar))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultNamespace, cfg.Namespace)
	assert.Equal(t, int64(10*(1<<30)), cfg.MaxHomeVolumeSizeBytes)
	assert.False(t, cfg.AutoShutdown.Enabled())
}

func TestLoadValidFile(t *testing.T) {
	writeConfig(t, `{
		"namespace": "ws",
		"users": [{"username": "alice", "ssh_public_key": "`+testKey+`"}],
		"auto_shutdown": {
			"enable": true,
			"tcp_idle": {"minimum_idle_time": "1h", "ignored_ports": [22]}
		}
	}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.Namespace)
	assert.True(t, cfg.AutoShutdown.Enabled())
	require.NotNil(t, cfg.AutoShutdown.TCPIdle)
	assert.Equal(t, []uint16{22}, cfg.AutoShutdown.TCPIdle.IgnoredPorts)
}

func TestLoadRejectsWhitespaceNamespace(t *testing.T) {
	writeConfig(t, `{"namespace": " ws "}`)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadQuantity(t *testing.T) {
	writeConfig(t, `{"max_home_volume_size": "5X"}`)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadUserKey(t *testing.T) {
	writeConfig(t, `{"users": [{"username": "alice", "ssh_public_key": "not-a-key"}]}`)
	_, err := Load()
	assert.Error(t, err)
}
