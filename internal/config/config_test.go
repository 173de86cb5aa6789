package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "websocket", cfg.PreferredTransport)
	assert.Equal(t, 10*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 500, cfg.MaxTraces)
	assert.True(t, cfg.AutoConnect)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PREFERRED_TRANSPORT", "sse")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("HEALTH_CHECK_INTERVAL", "5s")
	t.Setenv("AUTO_CONNECT", "false")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "sse", cfg.PreferredTransport)
	assert.Equal(t, 7, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckInterval)
	assert.False(t, cfg.AutoConnect)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "many")
	t.Setenv("HEALTH_CHECK_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.HealthCheckInterval)
}
