package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// NewMiddleware wraps handler with OpenTelemetry server spans named after
// the request method and path. A nil tp falls back to the global provider.
func NewMiddleware(handler http.Handler, operation string, tp trace.TracerProvider) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return otelhttp.NewHandler(handler, operation, opts...)
}
