package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// CancelResponse acknowledges a mission cancellation request.
type CancelResponse struct {
	MissionID string `json:"mission_id"`
	Message   string `json:"message"`
}

// HealthCheck is one component's health probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// RosterResponse is the collaboration roster payload.
type RosterResponse struct {
	Users []models.CollaborationUser `json:"users"`
}

// InviteRequest is the body of a collaboration invite.
type InviteRequest struct {
	Email string            `json:"email"`
	Role  models.CollabRole `json:"role,omitempty"`
}

// validateMissionRequest enforces mission parameter rules before any
// upstream call: goal non-empty, panel_type in the allowed enum.
func validateMissionRequest(req *models.CreateMissionRequest) *echo.HTTPError {
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal is required")
	}
	if !req.PanelType.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest,
			"invalid panel_type: must be structured, open, socratic, adversarial, delphi, or hybrid")
	}
	return nil
}
