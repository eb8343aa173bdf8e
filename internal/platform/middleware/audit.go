package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/rounding/internal/platform/auth"
)

// AuditEntry records who touched which rounding resource.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	ResourceType string // rounding-templates, rounding-sheets, export-artifacts
	ResourceID   string
	PatientIndex string
	Action       string // read, create, update, delete
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries. The structured log line is always written.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes. Sheets hold patient
// rosters, so reads are audited as well as writes.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			entry := AuditEntry{
				UserID:       auth.UserIDFromContext(ctx),
				UserRoles:    auth.RolesFromContext(ctx),
				ResourceType: resourceType(req.URL.Path),
				ResourceID:   c.Param("id"),
				PatientIndex: c.Param("index"),
				Action:       httpMethodToAction(req.Method, c.Path()),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Path:         req.URL.Path,
				Method:       req.Method,
				Timestamp:    time.Now().UTC(),
				RequestID:    requestID(c),
				StatusCode:   status,
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_index", entry.PatientIndex).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("resource_access")

			return err
		}
	}
}

// httpMethodToAction maps a request to an audit action. Export and progress
// POSTs and GETs are reads of the sheet even when they create a job.
func httpMethodToAction(method, route string) string {
	if strings.HasSuffix(route, "/export") || strings.HasSuffix(route, "/export-jobs") || strings.HasSuffix(route, "/preview") {
		return "read"
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}

// resourceType is the first path segment under /api/v1/.
func resourceType(path string) string {
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)[0]
	if seg == "" {
		return "unknown"
	}
	return seg
}
