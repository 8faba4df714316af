package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 200, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 15*time.Minute, cfg.Refresh.Threshold())
	assert.Equal(t, 60, cfg.Refresh.LockTTLSeconds)
	assert.Equal(t, 500, cfg.Refresh.LockPollMillis)
	assert.Equal(t, 30, cfg.Refresh.LockWaitSeconds)
	assert.Empty(t, cfg.ClientID)
	assert.Empty(t, cfg.ClientSecret)
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focuskit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client_id: client-id
client_secret: client-secret
rate_limit:
  limit: 100
redis:
  addr: localhost:6379
  db: 2
database:
  driver: pgx
  dsn: postgres://localhost/focus
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "client-id", cfg.ClientID)
	assert.Equal(t, 100, cfg.RateLimit.Limit)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 15, cfg.Refresh.ThresholdMinutes)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Config{} // everything missing or zero

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "client_id is required")
	assert.Contains(t, verr.Problems, "client_secret is required")
	assert.Contains(t, verr.Problems, "rate_limit.limit must be positive")
	assert.GreaterOrEqual(t, len(verr.Problems), 5, "all problems must be reported at once")
}

func TestValidate_LockTTLShorterThanWait(t *testing.T) {
	cfg := validConfig()
	cfg.Refresh.LockTTLSeconds = 10
	cfg.Refresh.LockWaitSeconds = 30

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl_seconds")
}

func TestValidate_DSNWithoutDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = "postgres://localhost/focus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}
