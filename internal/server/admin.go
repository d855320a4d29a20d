package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/internal/ports/http_reporter"
)

// NewAdminHandler serves health probes, the JSON debug snapshot at debugPath
// and the Prometheus view of gatherer at /metrics.
func NewAdminHandler(store domain.StoreReader, gatherer prometheus.Gatherer, debugPath string, ready func() bool) http.Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	if debugPath == "" {
		debugPath = "/debug/apm"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	if store != nil {
		mux.Handle("GET "+debugPath, http_reporter.NewHandler(store))
	}
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
