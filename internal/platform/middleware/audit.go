package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/navigation"
	"github.com/ehr/scheduling/internal/platform/fhir"
)

// AuditEntry records one access to scheduling data: which resource, whose
// chart, what kind of access and how it ended.
type AuditEntry struct {
	Actor        string
	ResourceType string
	ResourceID   string
	PatientID    string
	Action       string // search, read, create, update, delete
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns middleware that logs a "phi_access" line for every page and
// API request that touches scheduling data, and hands the entry to each
// recorder. Health, metrics and search canonicalization are not audited.
// The entry is built after the handler returns so it carries the final
// status, including for errors a later middleware will render.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Actor:      c.QueryParam("actor"),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Timestamp:  time.Now().UTC(),
				StatusCode: responseStatus(c, err),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.ResourceType, entry.ResourceID, entry.PatientID = auditTarget(path)
			if entry.PatientID == "" {
				entry.PatientID = strings.TrimPrefix(c.QueryParam("patient"), "Patient/")
			}
			entry.Action = auditAction(req.Method, path, entry.ResourceID)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("actor", entry.Actor).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	switch {
	case path == "/health", path == "/metrics":
		return false
	case strings.HasPrefix(path, "/api/v1/search/"):
		return false
	}
	return true
}

// responseStatus is the status the client will see for err.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// auditTarget maps a request onto the resource it touches. API paths are
// matched by collection; page paths go through the navigation route table.
func auditTarget(path string) (resourceType, id, patientID string) {
	if rest, ok := strings.CutPrefix(path, "/api/v1/"); ok {
		segs := strings.Split(strings.Trim(rest, "/"), "/")
		switch segs[0] {
		case "appointments":
			resourceType = "Appointment"
		case "slots":
			resourceType = "Slot"
		case "preferences":
			if len(segs) > 1 {
				return fhir.CanonicalResourceType(segs[1]), "", ""
			}
			return "", "", ""
		}
		if len(segs) > 1 {
			id = segs[1]
		}
		return resourceType, id, ""
	}

	route := navigation.Match(path)
	switch route.Page {
	case navigation.PageAppointments:
		return "Appointment", "", ""
	case navigation.PageAppointmentDetail:
		return "Appointment", route.Param("id"), ""
	case navigation.PageSchedule:
		return "Schedule", route.Param("id"), ""
	case navigation.PagePatient:
		return "Patient", route.Param("id"), route.Param("id")
	case navigation.PagePatientSchedule:
		return "Schedule", route.Param("scheduleId"), route.Param("patientId")
	case navigation.PageSearch:
		return fhir.CanonicalResourceType(route.Param("resourceType")), "", ""
	case navigation.PageResource:
		rt := fhir.CanonicalResourceType(route.Param("resourceType"))
		if rt == "Patient" {
			patientID = route.Param("id")
		}
		return rt, route.Param("id"), patientID
	}
	return "", "", ""
}

// auditAction maps the request onto an access kind. Reads without a
// resource id are searches.
func auditAction(method, path, id string) string {
	switch method {
	case http.MethodPost:
		if strings.HasSuffix(path, "/reschedule") {
			return "update"
		}
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if id == "" {
		return "search"
	}
	return "read"
}
