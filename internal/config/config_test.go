package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, "ws://localhost:8080/ws-chat/websocket", cfg.WebSocketURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReconnectDelay)
	assert.EqualValues(t, 5<<20, cfg.MaxUploadSize)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "headless"
backend_url = "https://file.example"
reconnect_delay = "3s"
log_level = "debug"
media_cache_size = 8
`), 0o600))

	t.Setenv("MC_BACKEND_URL", "https://env.example")
	t.Setenv("MC_MAX_UPLOAD_SIZE", "1024")

	cfg, err := Load([]string{"-config", path, "-log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, ModeHeadless, cfg.Mode)
	assert.Equal(t, "https://env.example", cfg.BackendURL)
	assert.Equal(t, "wss://env.example/ws-chat/websocket", cfg.WebSocketURL)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.EqualValues(t, 1024, cfg.MaxUploadSize)
	assert.Equal(t, 8, cfg.MediaCacheSize)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(path, []byte(`token_file = "/tmp/token"`), 0o600))
	t.Setenv("MC_CONFIG", path)

	cfg, err := Load([]string{"--mode=interactive"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/token", cfg.TokenFile)
	assert.Equal(t, ModeInteractive, cfg.Mode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load([]string{"-mode", "daemon"})
	assert.Error(t, err)

	_, err = Load([]string{"-reconnect-delay", "0s"})
	assert.Error(t, err)

	t.Setenv("MC_RECONNECT_DELAY", "soon")
	_, err = Load(nil)
	assert.Error(t, err)
}

func TestDeriveWebSocketURL(t *testing.T) {
	got, err := DeriveWebSocketURL("http://api.local:8080/")
	require.NoError(t, err)
	assert.Equal(t, "ws://api.local:8080/ws-chat/websocket", got)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.DatabasePath = filepath.Join(dir, "db", "chat.db")
	cfg.MediaPath = filepath.Join(dir, "media")

	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, filepath.Join(dir, "db"))
	assert.DirExists(t, cfg.MediaPath)
}
