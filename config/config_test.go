package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"PORT", "ENVIRONMENT", "ALLOWED_ORIGINS", "REDIS_HOST", "PRESENCE_TTL", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PRESENCE_TTL", "90s")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 90*time.Second, cfg.Redis.TTL)
}

func TestLoadClientPrecedence(t *testing.T) {
	t.Setenv("ETHERCHAT_SERVER", "wss://relay.example/ws")
	t.Setenv("STUN_SERVERS", "stun:one:3478, stun:two:3478")
	t.Setenv("ETHERCHAT_CODENAME", "")
	t.Setenv("ETHERCHAT_ROOM", "")

	cfg, err := LoadClient(ClientOptions{Room: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/ws", cfg.ServerURL)
	assert.Equal(t, []string{"stun:one:3478", "stun:two:3478"}, cfg.STUNServers)
	assert.Equal(t, "r1", cfg.Room)

	cfg, err = LoadClient(ClientOptions{ServerURL: "ws://localhost:1/ws", STUNServers: []string{"stun:flag"}})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:1/ws", cfg.ServerURL)
	assert.Equal(t, []string{"stun:flag"}, cfg.STUNServers)
}

func TestLoadClientRejectsHTTPURL(t *testing.T) {
	_, err := LoadClient(ClientOptions{ServerURL: "http://localhost:8080/ws"})
	assert.Error(t, err)
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("ETHERCHAT_SERVER", "")
	t.Setenv("STUN_SERVERS", "")

	cfg, err := LoadClient(ClientOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultSTUNServers, cfg.STUNServers)
}
