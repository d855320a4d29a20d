package http_reporter

import (
	"encoding/json"
	"net/http"

	"github.com/fllarpy/apm-demo/domain"
)

// NewHandler creates an HTTP handler that serves metrics from the given store.
// It fetches a snapshot of the current metrics and serves it as a JSON response.
func NewHandler(store domain.StoreReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := store.GetSnapshot()

		body, err := json.Marshal(snapshot)
		if err != nil {
			http.Error(w, "Failed to encode metrics to JSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(body)
	})
}
