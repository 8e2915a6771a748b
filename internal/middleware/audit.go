// audit.go provides Gin middleware that records successful authenticated
// write operations to the tamper-evident event chain.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/safego"
)

// AuditCaptureMiddleware appends an event for each successful non-GET request
// that passes through it. Handlers that record richer domain events themselves
// (export, archive) opt out by setting the skip flag on the context; this
// middleware is the catch-all so no admin write goes unrecorded.
func AuditCaptureMiddleware(recorder *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "GET" || c.Request.Method == "OPTIONS" {
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}
		if c.GetBool(ContextAuditRecorded) {
			return
		}

		ev := audit.Event{
			Action:  actionForRequest(c),
			Details: map[string]interface{}{"status_code": c.Writer.Status()},
		}
		if ip := c.ClientIP(); ip != "" {
			ev.IPAddress = &ip
		}
		if id := c.GetString(ContextUserID); id != "" {
			ev.ActorUserID = &id
		}
		if email := c.GetString(ContextActorEmail); email != "" {
			ev.ActorEmail = &email
		}
		if tenant := c.GetString(ContextTenantID); tenant != "" {
			ev.TenantID = &tenant
		}
		if method := c.GetString(ContextAuthMethod); method != "" {
			ev.Details["auth_method"] = method
		}

		// The append is deliberately off the request path: the chain lock
		// serializes writers and the response should not wait behind it.
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := recorder.Append(ctx, ev); err != nil {
				slog.Error("request audit append failed", "action", ev.Action, "error", err)
			}
		})
	}
}

// ContextAuditRecorded marks a request whose handler already appended a
// domain-specific event, suppressing the generic capture.
const ContextAuditRecorded = "audit_recorded"

// actionForRequest derives an action name from the route. The route template
// is preferred over the raw URL so path parameters do not explode the action
// vocabulary.
func actionForRequest(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	switch {
	case strings.Contains(path, "/apikeys"):
		if c.Request.Method == "DELETE" {
			return audit.ActionAPIKeyRevoke
		}
		return audit.ActionAPIKeyCreate
	default:
		return c.Request.Method + " " + path
	}
}
