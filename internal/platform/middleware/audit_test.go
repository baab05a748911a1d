package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// mockRecorder collects audit entries for assertions.
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

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func runAudit(t *testing.T, logger zerolog.Logger, rec AuditRecorder, method, target string, h echo.HandlerFunc) (AuditEntry, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("User-Agent", "scheduler-test")
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-1")

	err := Audit(logger, rec)(h)(c)
	if m, ok := rec.(*mockRecorder); ok && m.count() > 0 {
		return m.last(), err
	}
	return AuditEntry{}, err
}

func TestAudit_AppointmentDetailRead(t *testing.T) {
	rec := &mockRecorder{}
	entry, err := runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/appointment/a1", okHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	if entry.ResourceType != "Appointment" || entry.ResourceID != "a1" {
		t.Errorf("expected Appointment/a1, got %s/%s", entry.ResourceType, entry.ResourceID)
	}
	if entry.Action != "read" {
		t.Errorf("expected read, got %q", entry.Action)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", entry.StatusCode)
	}
	if entry.RequestID != "req-1" {
		t.Errorf("expected request id, got %q", entry.RequestID)
	}
	if entry.UserAgent != "scheduler-test" {
		t.Errorf("expected user agent, got %q", entry.UserAgent)
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestAudit_PatientPage(t *testing.T) {
	rec := &mockRecorder{}
	entry, _ := runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/patient/p1", okHandler)
	if entry.ResourceType != "Patient" || entry.PatientID != "p1" {
		t.Errorf("expected Patient p1, got %s %q", entry.ResourceType, entry.PatientID)
	}
}

func TestAudit_PatientSchedulePage(t *testing.T) {
	rec := &mockRecorder{}
	entry, _ := runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/patient/p1/schedule/s1", okHandler)
	if entry.ResourceType != "Schedule" || entry.ResourceID != "s1" || entry.PatientID != "p1" {
		t.Errorf("expected Schedule s1 for p1, got %+v", entry)
	}
}

func TestAudit_SearchWithQuery(t *testing.T) {
	rec := &mockRecorder{}
	entry, _ := runAudit(t, zerolog.Nop(), rec, http.MethodGet,
		"/appointment?patient=Patient/p9&actor=Practitioner/123", okHandler)
	if entry.ResourceType != "Appointment" {
		t.Errorf("expected Appointment, got %q", entry.ResourceType)
	}
	if entry.Action != "search" {
		t.Errorf("expected search, got %q", entry.Action)
	}
	if entry.PatientID != "p9" {
		t.Errorf("expected patient id from query, got %q", entry.PatientID)
	}
	if entry.Actor != "Practitioner/123" {
		t.Errorf("expected actor from query, got %q", entry.Actor)
	}
}

func TestAudit_AppointmentsTab(t *testing.T) {
	rec := &mockRecorder{}
	entry, _ := runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/appointment/upcoming", okHandler)
	if entry.ResourceType != "Appointment" || entry.Action != "search" {
		t.Errorf("expected an Appointment search, got %+v", entry)
	}
}

func TestAudit_APIActions(t *testing.T) {
	tests := []struct {
		method, path     string
		wantType, wantID string
		wantAction       string
	}{
		{http.MethodPost, "/api/v1/appointments", "Appointment", "", "create"},
		{http.MethodPost, "/api/v1/appointments/a1/reschedule", "Appointment", "a1", "update"},
		{http.MethodDelete, "/api/v1/slots/s1", "Slot", "s1", "delete"},
		{http.MethodGet, "/api/v1/preferences/patient", "Patient", "", "search"},
		{http.MethodPut, "/Patient/p1", "Patient", "p1", "update"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := &mockRecorder{}
			entry, _ := runAudit(t, zerolog.Nop(), rec, tt.method, tt.path, okHandler)
			if entry.ResourceType != tt.wantType {
				t.Errorf("resource type: expected %q, got %q", tt.wantType, entry.ResourceType)
			}
			if entry.ResourceID != tt.wantID {
				t.Errorf("resource id: expected %q, got %q", tt.wantID, entry.ResourceID)
			}
			if entry.Action != tt.wantAction {
				t.Errorf("action: expected %q, got %q", tt.wantAction, entry.Action)
			}
		})
	}
}

func TestAudit_SkipsHealthMetricsAndCanonicalize(t *testing.T) {
	for _, path := range []string{"/health", "/metrics", "/api/v1/search/canonicalize"} {
		rec := &mockRecorder{}
		if _, err := runAudit(t, zerolog.Nop(), rec, http.MethodGet, path, okHandler); err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
		if rec.count() != 0 {
			t.Errorf("%s: expected no audit entry, got %d", path, rec.count())
		}
	}
}

func TestAudit_ErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	entry, err := runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/Slot/s1", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})
	if err == nil {
		t.Fatal("expected the handler error to be passed through")
	}
	if entry.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", entry.StatusCode)
	}

	entry, _ = runAudit(t, zerolog.Nop(), rec, http.MethodGet, "/Slot/s1", func(c echo.Context) error {
		return errors.New("boom")
	})
	if entry.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for a plain error, got %d", entry.StatusCode)
	}
}

func TestAudit_LogsAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	if _, err := runAudit(t, logger, nil, http.MethodGet, "/patient/p1", okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"phi_access"`) {
		t.Errorf("expected phi_access log line, got %s", out)
	}
	if !strings.Contains(out, `"patient_id":"p1"`) {
		t.Errorf("expected patient id in log line, got %s", out)
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	rec := &mockRecorder{err: errors.New("disk full")}
	if _, err := runAudit(t, logger, rec, http.MethodGet, "/appointment/a1", okHandler); err != nil {
		t.Fatalf("expected recorder failures to be swallowed, got %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestAudit_AllRecorders(t *testing.T) {
	first, second := &mockRecorder{}, &mockRecorder{}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/schedule/s1", nil), httptest.NewRecorder())
	if err := Audit(zerolog.Nop(), first, AuditRecorderFunc(second.RecordAccess))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Errorf("expected both recorders to see the entry, got %d and %d", first.count(), second.count())
	}
	if got := second.last().ResourceType; got != "Schedule" {
		t.Errorf("expected Schedule, got %q", got)
	}
}
