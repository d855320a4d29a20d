package http_middleware

import (
	"net/http"
	"time"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/domain/metrics"
)

// responseWriter is a wrapper around http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Instrument wraps next so that every invocation reports exactly one
// observation named operation, whatever the outcome. A panicking handler is
// recorded as a 500 and the panic is propagated to net/http.
func Instrument(recorder domain.Recorder, operation string, next http.Handler) http.Handler {
	if recorder == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			status := rw.statusCode
			p := recover()
			if p != nil {
				status = http.StatusInternalServerError
			}
			recorder.Record(metrics.Observation{
				Operation: operation,
				Outcome:   metrics.OutcomeFromStatus(status),
				Duration:  time.Since(start),
				Timestamp: start,
			})
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

// InstrumentFunc is Instrument for plain handler functions.
func InstrumentFunc(recorder domain.Recorder, operation string, fn http.HandlerFunc) http.Handler {
	return Instrument(recorder, operation, fn)
}
