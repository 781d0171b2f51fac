package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, path string, caller *auth.Caller) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if caller != nil {
		req = req.WithContext(auth.WithCaller(req.Context(), *caller))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	return c
}

func TestAudit_RecordsWrite(t *testing.T) {
	rec := &mockRecorder{}
	apptID := uuid.New().String()
	caller := auth.Caller{ID: uuid.New(), Role: auth.RoleDoctor}
	c := newAuditContext(http.MethodPut, "/api/v1/appointments/"+apptID+"/status", &caller)

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	entry := rec.entries[0]
	if entry.Action != "update" {
		t.Errorf("expected update, got %s", entry.Action)
	}
	if entry.Resource != "appointments" || entry.ResourceID != apptID {
		t.Errorf("unexpected resource %s/%s", entry.Resource, entry.ResourceID)
	}
	if entry.CallerID != caller.ID.String() || entry.CallerRole != auth.RoleDoctor {
		t.Errorf("unexpected caller %s/%s", entry.CallerID, entry.CallerRole)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %s", entry.RequestID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/appointments"},
		{http.MethodPost, "/health"},
	} {
		c := newAuditContext(tc.method, tc.path, nil)
		if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	c := newAuditContext(http.MethodPost, "/api/v1/appointments", nil)

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"resource":"appointments"`) {
		t.Errorf("expected audit line, got %s", buf.String())
	}
}

func TestSplitResource(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/appointments", "appointments", ""},
		{"/api/v1/appointments/abc/treat", "appointments", "abc"},
		{"/api/v1/doctors/xyz/availability", "doctors", "xyz"},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		r, id := splitResource(tt.path)
		if r != tt.resource || id != tt.id {
			t.Errorf("splitResource(%q) = %q, %q; want %q, %q", tt.path, r, id, tt.resource, tt.id)
		}
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}
