package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// requestScope extracts the caller's identity and tenant context from
// proxy headers. Every upstream call made on the caller's behalf reuses
// this context unmodified.
//
// User id priority: X-User-ID > X-Forwarded-User (oauth2-proxy) >
// "api-client".
func requestScope(c *echo.Context) (upstream.RequestContext, error) {
	h := c.Request().Header

	auth := h.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return upstream.RequestContext{}, echo.NewHTTPError(http.StatusUnauthorized, "bearer token is required")
	}

	tenantID := h.Get("X-Tenant-ID")
	if tenantID == "" {
		return upstream.RequestContext{}, echo.NewHTTPError(http.StatusBadRequest, "tenant id is required")
	}

	userID := h.Get("X-User-ID")
	if userID == "" {
		userID = h.Get("X-Forwarded-User")
	}
	if userID == "" {
		userID = "api-client"
	}

	email := h.Get("X-User-Email")
	if email == "" {
		email = h.Get("X-Forwarded-Email")
	}

	rc := upstream.RequestContext{
		Token:     token,
		TenantID:  tenantID,
		UserID:    userID,
		UserEmail: email,
		RequestID: h.Get("X-Request-ID"),
	}
	return rc.WithRequestID(), nil
}
