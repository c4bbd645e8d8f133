package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	appLogger "github.com/arklim/credential-policy/internal/infra/logger"
)

func TestRequireAdminToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext(), RequireAdminToken("s3cret"))
	router.GET("/admin", func(c *gin.Context) {
		c.String(http.StatusOK, GetActor(c))
	})

	cases := []struct {
		name   string
		token  string
		actor  string
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong", token: "nope", status: http.StatusForbidden},
		{name: "default actor", token: "s3cret", status: http.StatusOK, body: "admin"},
		{name: "named actor", token: "s3cret", actor: "ops-bob", status: http.StatusOK, body: "ops-bob"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.token != "" {
				req.Header.Set(AdminTokenHeader, tc.token)
			}
			if tc.actor != "" {
				req.Header.Set(AdminActorHeader, tc.actor)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if tc.body != "" && rr.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, rr.Body.String())
			}
		})
	}
}

func TestRequireAdminTokenDisabledWhenEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequireAdminToken(""))
	router.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestRequestIDAndEnrichContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var (
		seenRequestID string
		seenCtx       *RequestContext
	)

	router := gin.New()
	router.Use(RequestID(), EnrichContext(), Logger(zaptest.NewLogger(t)))
	router.GET("/ctx", func(c *gin.Context) {
		seenRequestID = appLogger.RequestIDFromContext(c.Request.Context())
		seenCtx = GetRequestContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ctx", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set(TraceIDHeader, "trace-42")
	req.Header.Set("User-Agent", "curl/8")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if seenRequestID != "req-42" {
		t.Fatalf("expected request id req-42, got %q", seenRequestID)
	}
	if rr.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected request id echoed in response")
	}
	if seenCtx.TraceID != "trace-42" || rr.Header().Get(TraceIDHeader) != "trace-42" {
		t.Fatalf("expected inbound trace id to be kept, got %q", seenCtx.TraceID)
	}
	if seenCtx.UserAgent != "curl/8" {
		t.Fatalf("expected user agent captured, got %q", seenCtx.UserAgent)
	}
	if seenCtx.IP == "" {
		t.Fatalf("expected client ip captured")
	}
}

func TestTracingRecordsServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var traceID string
	router := gin.New()
	router.Use(Tracing(TracingOptions{
		TracerProvider: provider,
		Propagators:    propagation.TraceContext{},
	}), EnrichContext())
	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		traceID = GetTraceID(c)
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /api/v1/auth/login" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if got := span.SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected inbound trace to be continued, got %s", got)
	}
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status for 5xx, got %v", span.Status().Code)
	}
	if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace id from active span, got %q", traceID)
	}
}
