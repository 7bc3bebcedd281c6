package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service handles checkpoint notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyCheckpointRequired announces a new awaiting checkpoint. Returns
// the message timestamp so the settlement notification can thread onto
// it. Fail-open: errors are logged, never returned.
func (s *Service) NotifyCheckpointRequired(ctx context.Context, cp models.Checkpoint, window time.Duration) string {
	if s == nil {
		return ""
	}

	blocks := BuildCheckpointRequiredMessage(cp, window, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send checkpoint notification",
			"checkpoint_id", cp.ID,
			"mission_id", cp.MissionID,
			"error", err)
		return ""
	}
	return ts
}

// NotifyCheckpointSettled announces a checkpoint's terminal status,
// threaded onto the original notification when threadTS is known.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyCheckpointSettled(ctx context.Context, cp models.Checkpoint, threadTS string) {
	if s == nil {
		return
	}

	blocks := BuildCheckpointSettledMessage(cp)
	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send checkpoint settlement notification",
			"checkpoint_id", cp.ID,
			"status", cp.Status,
			"error", err)
	}
}
