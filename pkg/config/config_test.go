package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/ratelimit"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "filesystem", cfg.Storage.AssetBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.CounterStore.URL)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)

	login := cfg.Throttle.Policies[ratelimit.ClassLogin]
	assert.Equal(t, 5, login.Limit)
	assert.Equal(t, 15*time.Minute, login.Window)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")
	t.Setenv("LABCONTROL_PORT", "8443")
	t.Setenv("LABCONTROL_LOG_LEVEL", "debug")
	t.Setenv("LABCONTROL_THROTTLE_LOGIN_LIMIT", "10")
	t.Setenv("LABCONTROL_THROTTLE_LOGIN_WINDOW", "5m")
	t.Setenv("LABCONTROL_SESSION_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8443", cfg.Server.Port)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)

	login := cfg.Throttle.Policies[ratelimit.ClassLogin]
	assert.Equal(t, 10, login.Limit)
	assert.Equal(t, 5*time.Minute, login.Window)
}

func TestLoad_MissingPostgres(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SamePorts(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")
	t.Setenv("LABCONTROL_PORT", "8080")
	t.Setenv("LABCONTROL_HEALTH_PORT", "8080")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_S3BackendRequiresBucket(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")
	t.Setenv("LABCONTROL_ASSET_BACKEND", "s3")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LABCONTROL_S3_BUCKET", "labcontrol-results")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage.AssetBackend)
}

func TestLoad_InvalidThrottleOverride(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")
	t.Setenv("LABCONTROL_THROTTLE_LOGIN_LIMIT", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SubSecondThrottleWindow(t *testing.T) {
	t.Setenv("LABCONTROL_POSTGRES_URL", "postgres://localhost/labcontrol")
	t.Setenv("LABCONTROL_THROTTLE_LOGIN_WINDOW", "500ms")

	_, err := Load()
	assert.Error(t, err)
}
