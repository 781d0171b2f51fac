package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextForRoute(route string) echo.Context {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetPath(route)
	return c
}

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		route string
		want  bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/api/v1/appointments", false},
		{"/api/v1/doctors/:id/availability", false},
		{"/health/extra", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			if got := AuthSkipper(contextForRoute(tt.route)); got != tt.want {
				t.Errorf("AuthSkipper(%q) = %v, want %v", tt.route, got, tt.want)
			}
		})
	}
}

func TestRouteSkipper_Custom(t *testing.T) {
	skip := RouteSkipper("/api/v1/doctors/:id/availability")
	if !skip(contextForRoute("/api/v1/doctors/:id/availability")) {
		t.Error("expected listed route to be skipped")
	}
	if skip(contextForRoute("/health")) {
		t.Error("expected unlisted route to require auth")
	}
	if RouteSkipper()(contextForRoute("/health")) {
		t.Error("expected empty skipper to skip nothing")
	}
}
