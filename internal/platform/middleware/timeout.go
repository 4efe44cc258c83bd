package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that sets a context deadline on each
// incoming request. The handler runs on the calling goroutine, so it must
// honour the deadline itself; every backend call it makes takes the request
// context. If the deadline passed and nothing was written yet, the response
// becomes a 504.
//
// A timeout <= 0 disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			// Client disconnects cancel ctx too; only our own deadline is a 504.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return writeError(c, http.StatusGatewayTimeout, "backend did not answer in time")
			}
			// Partial writes keep whatever the handler already sent.
			return err
		}
	}
}
