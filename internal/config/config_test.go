package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, 0.7, cfg.SuccessRateUpgrade)
	assert.Equal(t, 500, cfg.DowngradeTestInterval)
	assert.Equal(t, 0.65, cfg.TargetUsageRatio)
	assert.Equal(t, "anthropic", cfg.FallbackProvider)
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DB_PATH", "/tmp/custom.db")
	t.Setenv("ROUTER_FALLBACK_PROVIDER", "openai")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 9999, cfg.ServerPort)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.FallbackProvider)
}

func TestLoadFromEnv_RejectsMalformedInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	cfg := Default()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
}

func TestLoad_OptionsWinOverEnv(t *testing.T) {
	os.Unsetenv("SERVER_PORT")
	cfg, err := Load(WithServerPort(1234), WithDBPath("/tmp/opt.db"))
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.ServerPort)
	assert.Equal(t, "/tmp/opt.db", cfg.DBPath)
}
