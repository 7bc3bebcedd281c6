// missiond — mission control-plane proxy. Serves the BFF HTTP API,
// tracks human-in-the-loop checkpoints, and hosts the collaboration hub.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/api"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/checkpoint"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/collab"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/config"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/slack"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to optional .env file")
	flag.Parse()

	// Load .env file if present
	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	// 1. Resolve configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting missiond",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"upstream", cfg.UpstreamBaseURL,
		"checkpoint_window", cfg.CheckpointWindow)

	// 2. Upstream engine client
	engine := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)

	// 3. Checkpoint coordinator and collaboration hub
	coordinator := checkpoint.NewCoordinator(engine, cfg.CheckpointWindow)
	defer coordinator.Close()

	if notifier := slack.NewService(slack.ServiceConfig{
		Token:        cfg.SlackToken,
		Channel:      cfg.SlackChannel,
		DashboardURL: cfg.DashboardURL,
	}); notifier != nil {
		coordinator.SetNotifier(notifier)
		slog.Info("Slack checkpoint notifications enabled", "channel", cfg.SlackChannel)
	}

	hub := collab.NewHub(cfg.CollabWriteTimeout)

	// 4. HTTP server
	httpServer := api.NewServer(cfg, engine, coordinator, hub)

	// 5. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown — drain in-flight requests, then stop timers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
