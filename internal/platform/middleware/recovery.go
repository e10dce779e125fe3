package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 carrying the request id, so a
// client report can be matched to the logged stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				requestID, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", requestID).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Str("user_id", auth.UserIDFromContext(c.Request().Context())).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				msg := "internal server error"
				if requestID != "" {
					msg += " (request " + requestID + ")"
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, msg)
			}()
			return next(c)
		}
	}
}
