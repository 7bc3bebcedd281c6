package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.CheckpointWindow)
	assert.Equal(t, 5, cfg.StreamMaxAttempts)
	assert.Equal(t, time.Second, cfg.StreamInitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.StreamMaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.CollabHeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.CollabTypingTTL)
	assert.Equal(t, 3*time.Second, cfg.CollabReconnectDelay)
	assert.Empty(t, cfg.SlackToken)
	assert.Equal(t, "http://localhost:3000", cfg.DashboardURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("CHECKPOINT_WINDOW", "90s")
	t.Setenv("STREAM_MAX_ATTEMPTS", "3")
	t.Setenv("SLACK_TOKEN", "xoxb-test")
	t.Setenv("SLACK_CHANNEL", "C123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.CheckpointWindow)
	assert.Equal(t, 3, cfg.StreamMaxAttempts)
	assert.Equal(t, "xoxb-test", cfg.SlackToken)
	assert.Equal(t, "C123", cfg.SlackChannel)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("CHECKPOINT_WINDOW", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHECKPOINT_WINDOW", "1m")
	t.Setenv("STREAM_MAX_ATTEMPTS", "many")
	_, err = Load()
	assert.Error(t, err)
}
