package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer sets up a test tracer provider and returns the span recorder.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prev)
	})

	return sr
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_Disabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing(TracingConfig{Enabled: false, ServiceName: "test-service"}), SpanEnricher())
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended())
}

func TestTracing_EnrichesServerSpan(t *testing.T) {
	sr := setupTestTracer(t)
	userID := uuid.New()
	state := entitlement.ResolvedState{UserID: userID, HasAccess: true, Source: entitlement.SourceCacheAdminGranted}

	router := gin.New()
	router.Use(RequestID(), Tracing(DefaultTracingConfig()), SpanEnricher())
	router.GET("/api/v1/entitlement", func(c *gin.Context) {
		c.Set(JWTUserIDKey, userID.String())
		c.Set(RouteClassKey, entitlement.RouteIdentity)
		c.Set(DecisionKey, entitlement.DecisionAllow)
		c.Set(ResolvedStateKey, state)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlement", nil)
	req.Header.Set(RequestIDKey, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Len(t, sr.Ended(), 1)
	span := sr.Ended()[0]
	attrs := spanAttrs(span)

	assert.Equal(t, "req-42", attrs["request_id"].AsString())
	assert.Equal(t, userID.String(), attrs[telemetry.SpanAttrUserID].AsString())
	assert.Equal(t, "identity", attrs["route_class"].AsString())
	assert.Equal(t, "allow", attrs["guard_decision"].AsString())
	assert.Equal(t, string(entitlement.SourceCacheAdminGranted), attrs[telemetry.SpanAttrSource].AsString())
	assert.True(t, attrs[telemetry.SpanAttrHasAccess].AsBool())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	assert.NotEqual(t, codes.Error, span.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID().String(), w.Header().Get(HeaderTraceID))
}

func TestSpanEnricher_StatusMarking(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		isError bool
	}{
		{"offer screen", http.StatusPaymentRequired, false},
		{"admin only", http.StatusForbidden, false},
		{"resolution pending", http.StatusServiceUnavailable, true},
		{"internal", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := setupTestTracer(t)

			router := gin.New()
			router.Use(Tracing(DefaultTracingConfig()), SpanEnricher())
			router.GET("/test", func(c *gin.Context) { c.Status(tt.status) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			require.Len(t, sr.Ended(), 1)
			span := sr.Ended()[0]
			assert.Equal(t, tt.isError, span.Status().Code == codes.Error)
			assert.Equal(t, int64(tt.status), spanAttrs(span)["http.status_code"].AsInt64())
		})
	}
}

func TestSpanEnricher_WithoutSpanIsNoop(t *testing.T) {
	router := gin.New()
	router.Use(SpanEnricher())
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(HeaderTraceID))
}
