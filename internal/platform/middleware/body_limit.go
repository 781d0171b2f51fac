package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
)

const defaultBodyLimit = "1M"

// BodyLimit caps request bodies at limit ("64K", "1MB"). Declared lengths are
// checked before the handler runs and streamed bodies fail on read. A 413 is
// reported with the same {"error","message"} body as domain errors.
func BodyLimit(limit string) echo.MiddlewareFunc {
	limit = normalizeLimit(limit)
	limiter := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{Limit: limit})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := limiter(next)
		return func(c echo.Context) error {
			err := h(c)
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, map[string]string{
					"error":   "PayloadTooLarge",
					"message": "request body exceeds " + limit,
				}).SetInternal(err)
			}
			return err
		}
	}
}

// normalizeLimit returns limit when echo can parse it and 1M otherwise.
func normalizeLimit(limit string) string {
	n, err := bytes.Parse(limit)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return limit
}
