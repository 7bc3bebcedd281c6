package api

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestID returns middleware that propagates X-Request-ID, generating a
// UUID when the client did not supply one. The id is echoed on the
// response and carried on every upstream call made for the request.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.New().String()
				c.Request().Header.Set("X-Request-ID", id)
			}
			c.Response().Header().Set("X-Request-ID", id)
			return next(c)
		}
	}
}
