package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/arklim/credential-policy/internal/transport/http"

// TracingOptions customises the tracing middleware behaviour.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
}

// Tracing starts a server span per request, continuing any inbound trace context.
// Providers default to the globals at request time so a provider installed after
// router construction is still honoured.
func Tracing(opts TracingOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := opts.TracerProvider
		if provider == nil {
			provider = otel.GetTracerProvider()
		}
		propagators := opts.Propagators
		if propagators == nil {
			propagators = otel.GetTextMapPropagator()
		}

		ctx := propagators.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		spanName := route
		if spanName == "" {
			spanName = fmt.Sprintf("HTTP %s", c.Request.Method)
		} else {
			spanName = c.Request.Method + " " + route
		}

		ctx, span := provider.Tracer(tracerName).Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(c.Request.Method)),
		)
		defer span.End()

		if route != "" {
			span.SetAttributes(semconv.HTTPRoute(route))
		}

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
	}
}
