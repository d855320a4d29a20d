package handlers

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/domain"
	otelmw "github.com/fllarpy/apm-demo/instrumentation/http"
	"github.com/fllarpy/apm-demo/internal/ports/http_middleware"
)

// Operation names reported for each route.
const (
	OperationIndex = "index"
	OperationSlow  = "slow_function"
	OperationError = "error_function"
)

// RouterOptions wires the router to its collaborators.
type RouterOptions struct {
	Handlers       *Handlers
	Recorder       domain.Recorder
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
	ServiceName    string
}

// NewRouter registers the three demo routes by exact path. Each route is
// instrumented individually; the whole mux gets request logging and tracing.
func NewRouter(opts RouterOptions) http.Handler {
	h := opts.Handlers
	if h == nil {
		h = New(0, opts.Logger)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", http_middleware.InstrumentFunc(opts.Recorder, OperationIndex, h.Index))
	mux.Handle("GET /slow", http_middleware.InstrumentFunc(opts.Recorder, OperationSlow, h.Slow))
	mux.Handle("GET /error", http_middleware.InstrumentFunc(opts.Recorder, OperationError, h.Error))

	handler := http_middleware.RequestLogger(opts.Logger)(mux)
	return otelmw.NewMiddleware(handler, opts.ServiceName, opts.TracerProvider)
}
