package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets headers that keep responses from leaking the config
// token carried in request paths.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Config tokens hold backend credentials.
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Content-Type-Options", "nosniff")

			return next(c)
		}
	}
}
