// audit.go provides Gin middleware that records authenticated API activity
// into the audit trail itself, honoring the audit config's read/failure
// capture toggles.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/audit"
	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/safego"
)

// AuditCaptureMiddleware records API requests as audit events through the
// recorder. Default behavior (nil config) logs only successful write
// operations; LogReadOperations and LogFailedRequests widen the capture.
//
// POST /api/v1/events is exempt: the appended event IS the audit record, and
// capturing the append would double every entry.
func AuditCaptureMiddleware(recorder *audit.Recorder, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		// Skip OPTIONS always
		if c.Request.Method == "OPTIONS" {
			return
		}

		path := c.Request.URL.Path
		if c.Request.Method == "POST" && strings.HasSuffix(path, "/events") {
			return
		}

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		if isReadOp && !logReadOps {
			return
		}
		if isFailed && !logFailedReqs {
			return
		}

		// Extract caller context set by AuthMiddleware
		actorID := models.SystemActorID
		if v, exists := c.Get("user_id"); exists {
			if id, ok := v.(string); ok && id != "" {
				actorID = id
			}
		}

		authMethod := ""
		if v, exists := c.Get("auth_method"); exists {
			if am, ok := v.(string); ok {
				authMethod = am
			}
		}

		outcome := models.OutcomeSuccess
		var errMsg *string
		if isFailed {
			outcome = models.OutcomeFailure
			msg := c.Writer.Header().Get("X-Error-Summary")
			if msg == "" {
				msg = "request failed"
			}
			errMsg = &msg
		}

		ipAddress := c.ClientIP()
		event := &models.AuditEvent{
			ActorID:      actorID,
			Action:       c.Request.Method + " " + path,
			Resource:     resourceForPath(path),
			Severity:     severityForRequest(c.Request.Method, isFailed),
			Category:     categoryForPath(path),
			Outcome:      outcome,
			ErrorMessage: errMsg,
			IPAddress:    &ipAddress,
			Metadata: map[string]interface{}{
				"auth_method": authMethod,
				"status_code": c.Writer.Status(),
			},
		}

		// Async append (non-blocking)
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = recorder.Record(ctx, event)
		})
	}
}

// resourceForPath maps an API path to the audit resource it touches.
func resourceForPath(path string) string {
	switch {
	case strings.Contains(path, "/moderation"):
		return "moderation_items"
	case strings.Contains(path, "/alerts"):
		return "security_alerts"
	case strings.Contains(path, "/detection"):
		return "anomaly_scans"
	case strings.Contains(path, "/apikeys"):
		return "api_keys"
	case strings.Contains(path, "/events"):
		return "audit_events"
	}
	return "api"
}

// categoryForPath maps an API path to an audit category.
func categoryForPath(path string) models.Category {
	switch {
	case strings.Contains(path, "/moderation"):
		return models.CategoryContentModeration
	case strings.Contains(path, "/apikeys"):
		return models.CategorySystemConfig
	}
	return models.CategoryDataAccess
}

// severityForRequest grades a captured request. Failed mutations stand out
// over routine traffic without tripping the high/critical alert path.
func severityForRequest(method string, failed bool) models.Severity {
	if method == "GET" {
		return models.SeverityLow
	}
	if failed {
		return models.SeverityMedium
	}
	return models.SeverityLow
}
