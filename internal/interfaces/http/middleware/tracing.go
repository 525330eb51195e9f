// Package middleware provides the gin middleware chain of the entitlement API.
package middleware

import (
	"net/http"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength is the maximum accepted length for client request ids
const MaxRequestIDLength = 128

// HeaderTraceID exposes the request's trace id to clients
const HeaderTraceID = "X-Trace-ID"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "gestor-entitlements",
		Enabled:     true,
	}
}

// Tracing returns the otelgin server span middleware. Pair it with
// SpanEnricher, which must run directly after it.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

func enrichSpanWithAttributes(c *gin.Context, span trace.Span) {
	if requestID := GetRequestID(c); requestID != "" {
		if len(requestID) > MaxRequestIDLength {
			requestID = requestID[:MaxRequestIDLength]
		}
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	if userID := GetJWTUserID(c); userID != "" {
		span.SetAttributes(attribute.String(telemetry.SpanAttrUserID, userID))
	}
	if class, ok := GetRouteClass(c); ok {
		span.SetAttributes(attribute.String("route_class", class.String()))
	}
	if v, ok := c.Get(DecisionKey); ok {
		if d, ok := v.(entitlement.Decision); ok {
			span.SetAttributes(attribute.String("guard_decision", d.String()))
		}
	}
	if state, ok := GetResolvedState(c); ok {
		span.SetAttributes(
			attribute.String(telemetry.SpanAttrSource, string(state.Source)),
			attribute.Bool(telemetry.SpanAttrHasAccess, state.HasAccess),
		)
	}
}

// SpanEnricher annotates the server span once the handler chain has run:
//   - request_id and user_id
//   - route class and guard decision from AccessGuard
//   - the resolution source when the guard resolved the caller
//   - http.status_code, with 5xx marked as errors
//
// Guard rejections (401, 402, 403) are expected outcomes and keep an unset
// status.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID := telemetry.GetTraceID(c.Request.Context()); traceID != "" {
			c.Header(HeaderTraceID, traceID)
		}
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		enrichSpanWithAttributes(c, span)
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
