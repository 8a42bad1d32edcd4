package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry captures who called what, the outcome, and how long it took.
type AuditEntry struct {
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	IP           string
	UserAgent    string
	Method       string
	Path         string
	Query        string
	Status       int
	DurationMS   int64
	RequestID    string
	Timestamp    time.Time
}

// AuditRecorder persists audit entries. Implementations must not block the
// response path; the middleware calls Record after the handler returns and
// treats failures as log-only.
type AuditRecorder interface {
	Record(entry AuditEntry)
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry)

func (f AuditRecorderFunc) Record(entry AuditEntry) { f(entry) }

// Audit returns middleware that records an audit entry for every request
// except health and metrics probes. Recording is fire-and-forget.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if isProbePath(path) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			action, resourceType := deriveAction(path, req.Method)
			entry := AuditEntry{
				Action:       action,
				ResourceType: resourceType,
				ResourceID:   c.Param("id"),
				Actor:        Actor(c),
				IP:           c.RealIP(),
				UserAgent:    req.UserAgent(),
				Method:       req.Method,
				Path:         path,
				Query:        req.URL.RawQuery,
				Status:       c.Response().Status,
				DurationMS:   time.Since(start).Milliseconds(),
				Timestamp:    start.UTC(),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if recorder != nil {
				recorder.Record(entry)
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("actor", entry.Actor).
				Str("action", entry.Action).
				Str("resource_type", entry.ResourceType).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.Status).
				Int64("duration_ms", entry.DurationMS).
				Msg("request_audit")

			return err
		}
	}
}

func isProbePath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// deriveAction maps a route to an audit action and resource type.
func deriveAction(path, method string) (string, string) {
	switch {
	case strings.HasPrefix(path, "/fhir/ConceptMap"):
		return "TRANSLATE", "ConceptMap"
	case strings.HasPrefix(path, "/fhir/ValueSet"):
		return "EXPAND", "ValueSet"
	case strings.HasPrefix(path, "/fhir/CodeSystem"):
		return "LOOKUP", "CodeSystem"
	case strings.HasPrefix(path, "/fhir"):
		return "READ", "CapabilityStatement"
	case strings.HasPrefix(path, "/mapping/batch"):
		return "BATCH_TRANSLATE", "ConceptMap"
	case strings.HasPrefix(path, "/mapping") && method == http.MethodPost:
		return "TRANSLATE", "ConceptMap"
	case strings.HasPrefix(path, "/mapping") && method == http.MethodPut:
		return "VALIDATE", "Mapping"
	case strings.HasPrefix(path, "/mapping"):
		return "LIST", "Mapping"
	case strings.HasPrefix(path, "/autocomplete"):
		return "SEARCH", "CodeSystem"
	case strings.HasPrefix(path, "/admin"):
		return "ADMIN", "System"
	}

	switch method {
	case http.MethodPost:
		return "CREATE", "Unknown"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE", "Unknown"
	case http.MethodDelete:
		return "DELETE", "Unknown"
	default:
		return "READ", "Unknown"
	}
}
