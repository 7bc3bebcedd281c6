package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// getCheckpointHandler handles GET /api/v1/checkpoint/:id.
func (s *Server) getCheckpointHandler(c *echo.Context) error {
	checkpointID := c.Param("id")
	if checkpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint id is required")
	}
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	cp, err := s.coordinator.Fetch(c.Request().Context(), rc, checkpointID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, cp)
}

// respondCheckpointHandler handles POST /api/v1/checkpoint/:id — the
// human decision. The audit record is attached here from the request
// scope and forwarded upstream unmodified.
func (s *Server) respondCheckpointHandler(c *echo.Context) error {
	checkpointID := c.Param("id")
	if checkpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint id is required")
	}
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	var req models.CheckpointResponse
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Audit == nil {
		req.Audit = &models.AuditRecord{
			UserID:          rc.UserID,
			UserEmail:       rc.UserEmail,
			ActionSource:    "dashboard",
			ClientTimestamp: c.Request().Header.Get("X-Client-Timestamp"),
		}
	}
	if req.Audit.ClientTimestamp == "" {
		req.Audit.ClientTimestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	result, err := s.coordinator.Respond(c.Request().Context(), rc, checkpointID, req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// cancelCheckpointHandler handles DELETE /api/v1/checkpoint/:id. Upstream
// treats cancellation as an implicit reject-with-timeout.
func (s *Server) cancelCheckpointHandler(c *echo.Context) error {
	checkpointID := c.Param("id")
	if checkpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint id is required")
	}
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	if err := s.coordinator.Cancel(c.Request().Context(), rc, checkpointID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
