package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "PORT", "RULES_FILE", "ENGINE_WORKERS", "RULE_CACHE_TTL",
		"MAX_VOLTAGE_DROP_PERCENT", "MIGRATIONS_PATH", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.InMemory())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 4, cfg.EngineWorkers)
	assert.Equal(t, time.Duration(0), cfg.RuleCacheTTL)
	assert.Equal(t, 3.0, cfg.MaxVoltageDropPercent)
	assert.Equal(t, "migrations", cfg.MigrationsPath)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/assetrules")
	t.Setenv("PORT", "9090")
	t.Setenv("ENGINE_WORKERS", "8")
	t.Setenv("RULE_CACHE_TTL", "5m")
	t.Setenv("MAX_VOLTAGE_DROP_PERCENT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.InMemory())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 8, cfg.EngineWorkers)
	assert.Equal(t, 5*time.Minute, cfg.RuleCacheTTL)
	assert.Equal(t, 5.0, cfg.MaxVoltageDropPercent)
}

func TestLoadRuleCacheTTLWithDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/assetrules")
	t.Setenv("RULE_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DatabaseRuleCacheTTL, cfg.RuleCacheTTL)

	t.Setenv("RULE_CACHE_TTL", "0s")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.RuleCacheTTL, "an explicit 0 keeps invalidate-only caching")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"PORT":                     "70000",
		"ENGINE_WORKERS":           "0",
		"MAX_VOLTAGE_DROP_PERCENT": "0",
		"RULE_CACHE_TTL":           "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
