// Package api is the backend-for-frontend proxy: it authenticates
// callers, validates mission parameters, creates missions upstream, and
// forwards the engine's event stream to clients unmodified. Checkpoint
// resolution and the collaboration channel are served from the same
// surface.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/checkpoint"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/collab"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/config"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// Server is the BFF HTTP server.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	cfg         *config.Config
	upstream    *upstream.Client
	coordinator *checkpoint.Coordinator
	hub         *collab.Hub
}

// NewServer creates the server and registers all routes.
func NewServer(cfg *config.Config, engine *upstream.Client, coordinator *checkpoint.Coordinator, hub *collab.Hub) *Server {
	e := echo.New()
	s := &Server{
		echo:        e,
		cfg:         cfg,
		upstream:    engine,
		coordinator: coordinator,
		hub:         hub,
	}

	e.Use(securityHeaders())
	e.Use(requestID())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/missions", s.createMissionHandler)
	v1.POST("/missions/stream", s.createMissionStreamHandler)
	v1.GET("/missions/:id/stream", s.missionStreamHandler)
	v1.POST("/missions/:id/cancel", s.cancelMissionHandler)

	v1.GET("/checkpoint/:id", s.getCheckpointHandler)
	v1.POST("/checkpoint/:id", s.respondCheckpointHandler)
	v1.DELETE("/checkpoint/:id", s.cancelCheckpointHandler)

	v1.GET("/collab/:topic/ws", s.collabWSHandler)
	v1.GET("/collab/:topic/roster", s.collabRosterHandler)
	v1.POST("/collab/:topic/invite", s.collabInviteHandler)

	return s
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
