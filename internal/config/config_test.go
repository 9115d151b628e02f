package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("SLIPWAY_ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := Load()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.MaxConcurrentDeployments)
	assert.Equal(t, time.Hour, cfg.BuildTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SSHTimeout)
	assert.Equal(t, VerbosityDetailed, cfg.LogVerbosity)
	assert.NotEmpty(t, cfg.DatabaseURL)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SLIPWAY_ENV", "development")
	t.Setenv("MAX_CONCURRENT_DEPLOYMENTS", "5")
	t.Setenv("BUILD_TIMEOUT_SECONDS", "120")
	t.Setenv("SSH_TIMEOUT_SECONDS", "60")
	t.Setenv("DEPLOYMENT_LOG_VERBOSITY", "minimal")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ARTIFACTS_DIR", "/var/lib/slipway/artifacts")
	t.Setenv("WORK_DIR", "/var/lib/slipway/work")

	cfg := Load()

	assert.Equal(t, 5, cfg.MaxConcurrentDeployments)
	assert.Equal(t, 2*time.Minute, cfg.BuildTimeout)
	assert.Equal(t, time.Minute, cfg.SSHTimeout)
	assert.Equal(t, VerbosityMinimal, cfg.LogVerbosity)
	assert.Equal(t, "/var/lib/slipway/artifacts", cfg.ArtifactsDir)
	assert.Equal(t, "/var/lib/slipway/work", cfg.WorkDir)
	require.Len(t, cfg.AllowedOrigins, 2)
	assert.Equal(t, "https://a.example", cfg.AllowedOrigins[0])
}
