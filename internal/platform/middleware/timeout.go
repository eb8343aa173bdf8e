package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. The handler
// runs on the request goroutine, so nothing touches the echo.Context after
// the middleware returns. If the deadline passed and the handler has not
// written a response, it answers 504. Paths ending in /export use
// exportTimeout. A non-positive duration disables the deadline.
func RequestTimeout(timeout, exportTimeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := timeout
			if strings.HasSuffix(c.Request().URL.Path, "/export") {
				d = exportTimeout
			}
			if d <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			if c.Response().Committed {
				return nil
			}
			return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the allowed time limit")
		}
	}
}
