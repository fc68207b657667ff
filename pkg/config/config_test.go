package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POLICY_PROFILE", "")

	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "file:chaoscore.db", cfg.DatabaseURL)
	require.Equal(t, "default", cfg.Profile)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://core@localhost/core")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("POLICY_PROFILE", "strict")

	cfg := Load()
	require.Equal(t, "9999", cfg.Port)
	require.Equal(t, "postgres://core@localhost/core", cfg.DatabaseURL)
	require.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	require.Equal(t, "strict", cfg.Profile)
}
