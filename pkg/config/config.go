// Package config resolves service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object for the proxy service.
type Config struct {
	// HTTPPort is the port the BFF listens on.
	HTTPPort string

	// UpstreamBaseURL is the orchestration engine's API root.
	UpstreamBaseURL string

	// UpstreamTimeout bounds synchronous engine calls (not streams).
	UpstreamTimeout time.Duration

	// CheckpointWindow is how long a checkpoint may stay unanswered
	// before the coordinator auto-cancels it. Zero disables the watcher.
	CheckpointWindow time.Duration

	// Stream reconnect tuning.
	StreamMaxAttempts    int
	StreamInitialBackoff time.Duration
	StreamMaxBackoff     time.Duration

	// Collaboration channel tuning.
	CollabWriteTimeout      time.Duration
	CollabHeartbeatInterval time.Duration
	CollabTypingTTL         time.Duration
	CollabReconnectDelay    time.Duration

	// Slack checkpoint notifications. Both token and channel must be set
	// for notifications to be enabled.
	SlackToken   string
	SlackChannel string

	// DashboardURL is the public dashboard root linked from notifications.
	DashboardURL string
}

// Load resolves configuration from environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:                getEnv("HTTP_PORT", "8080"),
		UpstreamBaseURL:         getEnv("UPSTREAM_BASE_URL", "http://localhost:9090"),
		CollabHeartbeatInterval: 30 * time.Second,
		CollabTypingTTL:         3 * time.Second,
		CollabReconnectDelay:    3 * time.Second,
		SlackToken:              os.Getenv("SLACK_TOKEN"),
		SlackChannel:            os.Getenv("SLACK_CHANNEL"),
		DashboardURL:            getEnv("DASHBOARD_URL", "http://localhost:3000"),
	}

	var err error
	if cfg.UpstreamTimeout, err = getDuration("UPSTREAM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckpointWindow, err = getDuration("CHECKPOINT_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StreamMaxAttempts, err = getInt("STREAM_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.StreamInitialBackoff, err = getDuration("STREAM_INITIAL_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamMaxBackoff, err = getDuration("STREAM_MAX_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CollabWriteTimeout, err = getDuration("COLLAB_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("UPSTREAM_BASE_URL must not be empty")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
