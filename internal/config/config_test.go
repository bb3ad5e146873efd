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

	assert.Equal(t, "ws://localhost:8080/ws", cfg.AssistantWSURL)
	assert.Equal(t, "http://localhost:8080/api/v1", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Millisecond, cfg.RevealTokenDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.RevealSettleMargin)
	assert.Equal(t, 8, cfg.OutboxMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.NATSDrainTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ASSISTANT_WS_URL", "wss://assistant.example.edu/ws")
	t.Setenv("REVEAL_TOKEN_DELAY", "5ms")
	t.Setenv("SCROLL_BOTTOM_THRESHOLD", "12.5")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://assistant.example.edu/ws", cfg.AssistantWSURL)
	assert.Equal(t, 5*time.Millisecond, cfg.RevealTokenDelay)
	assert.Equal(t, 12.5, cfg.ScrollBottomThreshold)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("REVEAL_TOKEN_DELAY", "soon")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("zero token delay", func(t *testing.T) {
		t.Setenv("REVEAL_TOKEN_DELAY", "0s")
		_, err := Load()
		require.ErrorContains(t, err, "REVEAL_TOKEN_DELAY")
	})

	t.Run("no outbox attempts", func(t *testing.T) {
		t.Setenv("OUTBOX_MAX_ATTEMPTS", "0")
		_, err := Load()
		require.ErrorContains(t, err, "OUTBOX_MAX_ATTEMPTS")
	})
}
