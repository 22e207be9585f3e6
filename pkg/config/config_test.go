package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
api_port: 9000
shutdown_timeout: 5s
feed:
  limit: 10
  scope: branch
  branch: dev
events:
  relay: nats
seed:
  enabled: true
  users:
    - email: jane@example.com
      password: secret
`), 0o600))

	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("JWT_SECRET=0123456789abcdef0123456789abcdef\nAPI_PORT=9100\n"), 0o600))

	t.Setenv("CONFIG_FILE", file)
	t.Setenv("ENV_FILE", dotenv)
	t.Setenv("FEED_LIMIT", "7")
	t.Setenv("API_URL", "http://api.local/")
	// godotenv does not override variables that are already set.
	t.Setenv("API_PORT", "9200")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.APIPort)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 7, cfg.Feed.Limit)
	assert.Equal(t, "branch", cfg.Feed.Scope)
	assert.Equal(t, "dev", cfg.Feed.Branch)
	assert.Equal(t, "nats", cfg.Events.Relay)
	assert.Equal(t, "http://api.local", cfg.APIURL)
	assert.True(t, cfg.Seed.Enabled)
	require.Len(t, cfg.Seed.Users, 1)
	assert.Equal(t, "jane@example.com", cfg.Seed.Users[0].Email)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())

	cfg.Events.Relay = "kafka"
	assert.Error(t, cfg.Validate())

	cfg.Events.Relay = ""
	cfg.Feed.Limit = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := LoadWithDefaults()
	assert.True(t, cfg.Seed.Enabled)
	assert.Equal(t, 5, cfg.Feed.Limit)
	assert.Equal(t, 6500, cfg.WebPort)
	assert.Equal(t, "0.0.0.0:8080", cfg.APIAddr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadClientSkipsSecret(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("JWT_SECRET", "")
	t.Setenv("FEED_SCOPE", "pr")
	t.Setenv("FEED_PR", "42")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "pr", cfg.Feed.Scope)
	assert.Equal(t, 42, cfg.Feed.PR)

	t.Setenv("FEED_LIMIT", "0")
	_, err = LoadClient()
	assert.Error(t, err)
}
