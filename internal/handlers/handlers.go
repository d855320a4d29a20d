package handlers

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/internal/logger"
)

// Response bodies.
const (
	IndexBody = "Hello, World!"
	SlowBody  = "Hello, World again!"
)

// StatusClientGone is written when the client leaves before Slow completes.
// It counts as a failed call.
const StatusClientGone = http.StatusServiceUnavailable

// maxRandomSleep is the exclusive upper bound of SleepRandomDuration.
const maxRandomSleep = 300 * time.Millisecond

// Handlers holds the demo route handlers.
type Handlers struct {
	slowDelay time.Duration
	log       *zap.Logger
}

// New returns the demo handlers; slowDelay is the simulated latency of Slow.
func New(slowDelay time.Duration, log *zap.Logger) *Handlers {
	return &Handlers{slowDelay: slowDelay, log: logger.OrNop(log)}
}

// Index always succeeds immediately.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	writeText(w, IndexBody)
}

// Slow succeeds after the configured delay. The wait only parks this
// request's goroutine; if the client goes away it stops early and reports
// StatusClientGone.
func (h *Handlers) Slow(w http.ResponseWriter, r *http.Request) {
	if err := sleep(r.Context(), h.slowDelay); err != nil {
		logger.FromContext(r.Context(), h.log).Debug("Slow request abandoned by client", zap.Error(err))
		w.WriteHeader(StatusClientGone)
		return
	}
	writeText(w, SlowBody)
}

// Error always fails with 500 and no body.
func (h *Handlers) Error(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
}

// SleepRandomDuration waits for a uniformly random duration in [0, 300ms).
// It is not routed; it exists to add latency variance in experiments.
func SleepRandomDuration(ctx context.Context) error {
	return sleep(ctx, rand.N(maxRandomSleep))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
