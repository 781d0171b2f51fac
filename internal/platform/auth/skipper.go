package auth

import (
	"github.com/labstack/echo/v4"
)

// PublicRoutes are route paths served without a bearer token.
var PublicRoutes = []string{"/health", "/health/db", "/metrics"}

// RouteSkipper reports whether the matched route of a request is one of
// routes. Matching uses the registered path, so "/health/:x" style
// patterns must be listed as registered.
func RouteSkipper(routes ...string) func(echo.Context) bool {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return func(c echo.Context) bool {
		_, ok := set[c.Path()]
		return ok
	}
}

// AuthSkipper skips authentication for PublicRoutes.
var AuthSkipper = RouteSkipper(PublicRoutes...)
