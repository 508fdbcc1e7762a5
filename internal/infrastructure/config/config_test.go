package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, 128, cfg.Sessions.Max)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Engine.HandshakeTimeout)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("STATE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SESSIONS_MAX", "16")
	t.Setenv("SESSIONS_IDLE_TIMEOUT", "5m")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.State.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.State.RedisAddr)
	assert.Equal(t, 16, cfg.Sessions.Max)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("SESSIONS_MAX", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestDefaultMatchesEnvDefaults(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server.Port, loaded.Server.Port)
	assert.Equal(t, def.Sessions, loaded.Sessions)
	assert.Equal(t, def.State.Backend, loaded.State.Backend)
}
