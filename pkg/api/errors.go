package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/checkpoint"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// mapServiceError maps coordinator and upstream errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *checkpoint.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, upstream.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, checkpoint.ErrNotAwaiting) {
		return echo.NewHTTPError(http.StatusConflict, "checkpoint is not awaiting a response")
	}
	if errors.Is(err, checkpoint.ErrAlreadyResolved) {
		return echo.NewHTTPError(http.StatusConflict, "checkpoint already resolved")
	}
	if errors.Is(err, checkpoint.ErrCheckpointPending) {
		return echo.NewHTTPError(http.StatusConflict, "mission already has an awaiting checkpoint")
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.IsClientError() {
			return echo.NewHTTPError(statusErr.StatusCode, statusErr.Body)
		}
		slog.Error("Upstream engine error", "status", statusErr.StatusCode, "body", statusErr.Body)
		return echo.NewHTTPError(http.StatusBadGateway, "upstream engine error")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
