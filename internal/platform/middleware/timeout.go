package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a context deadline on each request. When the deadline
// expires before the handler completes, the request context is cancelled and
// a 504 with a stable error payload is returned. Handlers observe the
// cancelled context at their next blocking point, so no partial row is
// persisted after the response.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return deadlineError(c)
				}
				return ctx.Err()
			}
		}
	}
}

func deadlineError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	rid, _ := c.Get("request_id").(string)
	return c.JSON(http.StatusGatewayTimeout, map[string]interface{}{
		"error":      "mapping_timeout",
		"message":    "Request exceeded the processing deadline. Use POST /mapping/batch/async for long-running translations.",
		"request_id": rid,
	})
}
