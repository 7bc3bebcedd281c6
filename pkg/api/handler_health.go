package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// The upstream engine is probed but only degrades the status — the proxy
// itself is serving, and restarting it will not fix the engine.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.upstream.Health(reqCtx); err != nil {
		status = healthStatusDegraded
		checks["upstream"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["upstream"] = HealthCheck{Status: healthStatusHealthy}
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
