package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/auth"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr
}

// onlySpan returns the single ended span and its attributes by key.
func onlySpan(t *testing.T, sr *tracetest.SpanRecorder) (sdktrace.ReadOnlySpan, map[attribute.Key]attribute.Value) {
	t.Helper()
	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return spans[0], attrs
}

func TestTracing_SpanPerRequest(t *testing.T) {
	sr := setupTestTracer(t)

	handler := middleware.Tracing("reliabilityd")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanFromContext(r.Context()).SpanContext().IsValid())
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	span, attrs := onlySpan(t, sr)
	assert.Equal(t, "GET /v1/ops/health", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, "reliabilityd", attrs["service.name"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	assert.Equal(t, int64(len(`{"status":"OK"}`)), attrs["http.response.body.size"].AsInt64())
}

func TestTracing_RenamesSpanToRoutePattern(t *testing.T) {
	sr := setupTestTracer(t)

	r := chi.NewRouter()
	r.Use(middleware.Tracing("reliabilityd"))
	r.Post("/v1/admin/degradation/{featureId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/admin/degradation/quiz-generation", http.NoBody))

	span, attrs := onlySpan(t, sr)
	assert.Equal(t, "POST /v1/admin/degradation/{featureId}", span.Name())
	assert.Equal(t, "/v1/admin/degradation/{featureId}", attrs["http.route"].AsString())
	assert.Equal(t, "/v1/admin/degradation/quiz-generation", attrs["url.path"].AsString())
}

func TestTracing_JoinsIncomingTrace(t *testing.T) {
	sr := setupTestTracer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/flags/focus-timer", http.NoBody)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	middleware.Tracing("reliabilityd")(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	span, _ := onlySpan(t, sr)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", span.SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", span.Parent().SpanID().String())
}

func TestTracing_SpanStatusByResponseCode(t *testing.T) {
	tests := []struct {
		status   int
		wantCode codes.Code
	}{
		{http.StatusOK, codes.Unset},
		{http.StatusConflict, codes.Unset},
		{http.StatusServiceUnavailable, codes.Error},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			sr := setupTestTracer(t)
			handler := middleware.Tracing("reliabilityd")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/admin/feature-flags/reload", http.NoBody))

			span, attrs := onlySpan(t, sr)
			assert.Equal(t, int64(tt.status), attrs["http.status_code"].AsInt64())
			assert.Equal(t, tt.wantCode, span.Status().Code)
		})
	}
}

func TestTracing_RequestIDAndOperator(t *testing.T) {
	sr := setupTestTracer(t)
	tokens := newTestTokens(nil)

	handler := middleware.RequestID(
		middleware.Tracing("reliabilityd")(
			middleware.RequireRole(tokens, auth.RoleViewer)(okHandler()),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/degradation", http.NoBody)
	req.Header.Set("X-Request-Id", "incident-42")
	req.Header.Set("Authorization", "Bearer "+mintToken(t, tokens, auth.RoleViewer, 0))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	_, attrs := onlySpan(t, sr)
	assert.Equal(t, "incident-42", attrs["request.id"].AsString())
	assert.Equal(t, "ops@example.com", attrs["enduser.id"].AsString())
}
