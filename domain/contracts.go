package domain

import (
	"context"
	"time"

	"github.com/fllarpy/apm-demo/domain/metrics"
)

// Snapshot is a point-in-time, read-only copy of all cumulative metrics.
// This is part of the domain contracts as it defines the data structure
// that reporters (JSON, Prometheus) work with.
type Snapshot struct {
	Since        time.Time                            `json:"since"`
	Operations   map[string]metrics.OperationSnapshot `json:"operations"`
	RecentErrors []metrics.Observation                `json:"recent_errors"`

	// Raw keeps the full aggregates for reporters that need bucket detail.
	Raw map[string]metrics.OperationMetrics `json:"-"`
}

// Delta holds every observation recorded in [Start, End). Each observation
// belongs to exactly one Delta.
type Delta struct {
	Start        time.Time
	End          time.Time
	Operations   map[string]metrics.OperationMetrics
	Observations uint64
}

// Empty reports whether no observation was recorded in the interval.
func (d *Delta) Empty() bool {
	return d == nil || d.Observations == 0
}

// Recorder accepts observations from instrumented handlers. Implementations
// must never block for long and never fail.
type Recorder interface {
	Record(obs metrics.Observation)
}

// StoreReader defines the contract for reading cumulative metrics from a store.
type StoreReader interface {
	GetSnapshot() *Snapshot
}

// StoreWriter defines the contract for writing metrics to a store and
// draining what has not been exported yet.
type StoreWriter interface {
	Recorder
	Collect(now time.Time) *Delta
}

// Store is the combined interface for a metric store.
type Store interface {
	StoreReader
	StoreWriter
}

// Exporter delivers deltas to a remote collector.
type Exporter interface {
	Export(ctx context.Context, delta *Delta) error
	Shutdown(ctx context.Context) error
}
