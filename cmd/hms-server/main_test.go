package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/telemetry"
)

var testKey = bytes.Repeat([]byte{0xab}, 32)

type fakeIdentity struct {
	doctor  *identity.Doctor
	patient *identity.Patient
	err     error
}

func (f fakeIdentity) GetDoctor(context.Context, uuid.UUID) (*identity.Doctor, error) {
	return f.doctor, f.err
}

func (f fakeIdentity) GetPatient(context.Context, uuid.UUID) (*identity.Patient, error) {
	return f.patient, f.err
}

func TestDoctorDirectory(t *testing.T) {
	id := uuid.New()
	dir := doctorDirectory{svc: fakeIdentity{doctor: &identity.Doctor{ID: id, FullName: "Dr. Rao", Active: true}}}

	ref, err := dir.GetDoctor(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != id || ref.Name != "Dr. Rao" || !ref.Active {
		t.Errorf("unexpected ref %+v", ref)
	}
}

func TestDirectories_TranslateNotFound(t *testing.T) {
	missing := fakeIdentity{err: identity.ErrNotFound}
	if _, err := (doctorDirectory{svc: missing}).GetDoctor(context.Background(), uuid.New()); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("expected scheduling.ErrNotFound, got %v", err)
	}
	if _, err := (patientDirectory{svc: missing}).GetPatient(context.Background(), uuid.New()); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("expected scheduling.ErrNotFound, got %v", err)
	}

	boom := errors.New("connection reset")
	if _, err := (patientDirectory{svc: fakeIdentity{err: boom}}).GetPatient(context.Background(), uuid.New()); !errors.Is(err, boom) {
		t.Errorf("expected other errors to pass through, got %v", err)
	}
}

func TestMintToken(t *testing.T) {
	cfg := auth.JWTConfig{Issuer: "hms", SigningKey: testKey}
	sub := uuid.New()

	token, err := mintToken(cfg, sub.String(), auth.RoleDoctor, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caller, err := auth.ParseToken(cfg, token)
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if caller.ID != sub || caller.Role != auth.RoleDoctor {
		t.Errorf("unexpected caller %+v", caller)
	}

	if _, err := mintToken(cfg, "not-a-uuid", auth.RoleDoctor, time.Hour); err == nil {
		t.Error("expected error for bad subject")
	}
	if _, err := mintToken(cfg, sub.String(), "nurse", time.Hour); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := mintToken(cfg, sub.String(), auth.RolePatient, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "departments"},
	})
	out := buf.String()
	if !strings.Contains(out, "2025-01-08 10:00:00") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }
func (fakePinger) Stats() *db.PoolStats      { return &db.PoolStats{MaxConns: 4} }

type pingHandler struct{}

func (pingHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
}

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		AuthSigningKey: strings.Repeat("ab", 32),
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: time.Second,
	}
}

func TestNewRouter_HealthIsPublic(t *testing.T) {
	e, err := newRouter(testConfig("production"), zerolog.Nop(), fakePinger{}, telemetry.NewMetrics(), pingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestNewRouter_APIRequiresToken(t *testing.T) {
	cfg := testConfig("production")
	e, err := newRouter(cfg, zerolog.Nop(), fakePinger{}, telemetry.NewMetrics(), pingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	token, err := mintToken(auth.JWTConfig{SigningKey: testKey}, uuid.NewString(), auth.RolePatient, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestNewRouter_RejectsBadKey(t *testing.T) {
	cfg := testConfig("production")
	cfg.AuthSigningKey = "not-hex"
	if _, err := newRouter(cfg, zerolog.Nop(), fakePinger{}, telemetry.NewMetrics()); err == nil {
		t.Error("expected error for invalid signing key")
	}
}

type failingHandler struct{}

func (failingHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").
			SetInternal(errors.New("pg: connection reset"))
	})
}

func TestNewRouter_LogsInternalCause(t *testing.T) {
	var buf bytes.Buffer
	metrics := telemetry.NewMetrics()
	e, err := newRouter(testConfig("production"), zerolog.New(&buf), fakePinger{}, metrics, failingHandler{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := mintToken(auth.JWTConfig{SigningKey: testKey}, uuid.NewString(), auth.RoleDoctor, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fail", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Error("internal cause must not reach the client")
	}
	logged := buf.String()
	if !strings.Contains(logged, "pg: connection reset") {
		t.Errorf("expected internal cause in request log, got %q", logged)
	}
	if !strings.Contains(logged, `"status":500`) {
		t.Errorf("expected status 500 in request log, got %q", logged)
	}

	out := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), out)
	if err := metrics.Handler()(c); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !strings.Contains(out.Body.String(), `route="/api/v1/fail",status_code="500"`) {
		t.Error("expected the failed request to be counted with status 500")
	}
}

func TestMemoryBackend_BooksOverHTTP(t *testing.T) {
	cfg := testConfig("production")
	cfg.AvailabilityWindowDays = 7
	demo := newMemoryDemo()
	b := newMemoryBackend(cfg, zerolog.Nop(), telemetry.NewMetrics(), demo)
	defer b.close()

	e, err := newRouter(cfg, zerolog.Nop(), b.pinger, telemetry.NewMetrics(), b.handlers...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	do := func(method, path, body, sub, role string) *httptest.ResponseRecorder {
		t.Helper()
		token, err := mintToken(auth.JWTConfig{SigningKey: testKey}, sub, role, time.Minute)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Format(scheduling.DateLayout)
	rec := do(http.MethodPut, "/api/v1/doctors/"+demo.doctor.String()+"/availability",
		`{"availability":{"`+tomorrow+`":["09:00"]}}`, demo.doctor.String(), auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodPost, "/api/v1/appointments",
		`{"doctor_id":"`+demo.doctor.String()+`","date":"`+tomorrow+`","time":"09:00"}`, demo.patient.String(), auth.RolePatient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"doctor_name":"Dr. Demo"`) {
		t.Errorf("expected the seeded doctor in the view, got %s", rec.Body.String())
	}

	ok, err := b.scheduling.HasAppointmentWith(context.Background(), demo.doctor, demo.patient)
	if err != nil || !ok {
		t.Errorf("expected the booking in the store, got %v, %v", ok, err)
	}

	health := httptest.NewRecorder()
	e.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health/db: expected 200, got %d", health.Code)
	}
}
