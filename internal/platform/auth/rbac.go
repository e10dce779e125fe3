package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole lets the request through when the caller holds any of roles.
// Admins always pass. A request without an identity is rejected with 401.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	denied := "requires role " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if UserIDFromContext(ctx) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, role := range roles {
				if HasRole(ctx, role) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, denied)
		}
	}
}
