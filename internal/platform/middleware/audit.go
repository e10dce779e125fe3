package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

// AuditEntry records one access to patient data.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string
	PatientID  string
	Action     string // read, create, update, delete
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request that touches a patient-scoped resource.
// Entries always go to the structured log; a recorder, when given, also
// receives them.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource := resourceFromPath(req.URL.Path)
			if !auditedResources[resource] {
				return next(c)
			}

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Resource:   resource,
				PatientID:  patientIDFromRequest(c),
				Action:     actionForMethod(req.Method),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("patient_data_access")

			return err
		}
	}
}

var auditedResources = map[string]bool{
	"patients":     true,
	"lab-results":  true,
	"appointments": true,
}

func resourceFromPath(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") {
		return ""
	}
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)
	return seg[0]
}

// patientIDFromRequest finds a patient id in /api/v1/patients/<id>/... or in
// the patient_id query parameter.
func patientIDFromRequest(c echo.Context) string {
	const prefix = "/api/v1/patients/"
	if path := c.Request().URL.Path; strings.HasPrefix(path, prefix) {
		seg := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
		if _, err := uuid.Parse(seg[0]); err == nil {
			return seg[0]
		}
	}
	return c.QueryParam("patient_id")
}

func actionForMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
