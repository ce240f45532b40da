package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.QuotaCeiling)
	assert.Equal(t, 24*time.Hour, cfg.QuotaWindow)
	assert.Equal(t, 60*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 120*time.Second, cfg.ChartUpstreamTimeout)
	assert.Equal(t, ".sgconsultingtech.com", cfg.AllowedOriginSuffix)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")
	t.Setenv("QUOTA_CEILING", "10")
	t.Setenv("QUOTA_WINDOW", "1h")
	t.Setenv("UPSTREAM_TIMEOUT", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.QuotaCeiling)
	assert.Equal(t, time.Hour, cfg.QuotaWindow)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_NormalizesOriginSuffix(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")
	t.Setenv("ALLOWED_ORIGIN_SUFFIX", "sgconsultingtech.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".sgconsultingtech.com", cfg.AllowedOriginSuffix)
}

func TestLoad_RejectsNonPositiveCeiling(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")
	t.Setenv("QUOTA_CEILING", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUOTA_CEILING")
}
