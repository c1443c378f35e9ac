package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("ROUTE_SECRET", "r")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.ProfileCacheTTL)
	assert.Equal(t, "SUPERADMIN", cfg.SuperAdminRoleCode)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("BACKEND_URL", "https://api.isp.example")
	t.Setenv("SUPERADMIN_ROLE_CODE", "ROOT")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "https://api.isp.example", cfg.BackendURL)
	assert.Equal(t, "ROOT", cfg.SuperAdminRoleCode)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("ROUTE_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestRejectsNonPositiveUploadLimit(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_UPLOAD_BYTES", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestNilConfigIsNotProduction(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
}

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	assert.True(t, RefreshTestMode())
	assert.True(t, InTestMode())
	t.Setenv(TestModeEnv, "0")
	assert.False(t, RefreshTestMode())
	assert.False(t, InTestMode())
}
