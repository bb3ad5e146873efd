package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/config"
)

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		NATSURL:          "nats://localhost:4222",
		NATSToken:        "secret",
		NATSDrainTimeout: 3 * time.Second,
	}

	c := ConfigFrom(cfg, "campus-chat")
	assert.Equal(t, "nats://localhost:4222", c.URL)
	assert.Equal(t, "campus-chat", c.Role)
	assert.Equal(t, "secret", c.Token)
	assert.Equal(t, 3*time.Second, c.DrainTimeout)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{URL: "nats://localhost:4222"}.withDefaults()
	assert.Equal(t, "campus-assistant", c.Role)
	assert.Equal(t, defaultConnectTimeout, c.ConnectTimeout)
	assert.Equal(t, defaultDrainTimeout, c.DrainTimeout)
}

func TestConnectRejectsIncompleteConfig(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, nil)
	require.Error(t, err)

	_, err = Connect(context.Background(), Config{URL: "nats://localhost:4222", CertFile: "client.pem"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate and key")
}

func TestHealthyWithoutConnection(t *testing.T) {
	assert.ErrorIs(t, (&Client{}).Healthy(), ErrNotConnected)
}
