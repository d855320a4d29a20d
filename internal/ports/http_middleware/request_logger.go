package http_middleware

import (
	"net/http"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/internal/logger"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-Id"

// RequestLogger assigns a request id, stores a request-scoped logger in the
// context and writes one debug line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = xid.New().String()
			}
			w.Header().Set(RequestIDHeader, reqID)

			fields := []zap.Field{zap.String("req_id", reqID)}
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			reqLog := log.With(fields...)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			reqLog.Debug("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
