package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RequestTimeout puts a deadline on the request context. Repositories observe
// it through ctx; a handler that fails because the deadline passed is turned
// into a 504 and logged.
func RequestTimeout(timeout time.Duration, logger zerolog.Logger) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		ErrorHandler: func(err error, c echo.Context) error {
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Warn().
				Str("request_id", c.Response().Header().Get(RequestIDHeader)).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Dur("timeout", timeout).
				Msg("request timed out")
			return echo.NewHTTPError(http.StatusGatewayTimeout, map[string]string{
				"error":   "Timeout",
				"message": "request processing exceeded the allowed time limit",
			}).SetInternal(err)
		},
	})
}
