package metrics

import (
	"math"
	"sort"
	"time"
)

// --- Outcomes ---

// Result is the coarse outcome of an instrumented call.
type Result string

const (
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

// Outcome is the result of a call together with the HTTP status it produced.
type Outcome struct {
	Result     Result `json:"result"`
	StatusCode int    `json:"status_code"`
}

// OutcomeFromStatus classifies an HTTP status code. Only server errors count
// as a failed call; client errors are the caller's fault, not the function's.
func OutcomeFromStatus(statusCode int) Outcome {
	if statusCode >= 500 {
		return Outcome{Result: ResultError, StatusCode: statusCode}
	}
	return Outcome{Result: ResultOK, StatusCode: statusCode}
}

// IsError reports whether the outcome is a failed call.
func (o Outcome) IsError() bool {
	return o.Result == ResultError
}

// Observation is a single record of one completed handler invocation.
type Observation struct {
	Operation string        `json:"operation"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// --- Aggregation ---

// DefaultDurationBounds are the histogram bucket upper bounds in seconds.
var DefaultDurationBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

// DurationHistogram is an explicit-bucket histogram of call durations in
// seconds. BucketCounts has one more entry than Bounds; the last bucket holds
// everything above the highest bound.
type DurationHistogram struct {
	Bounds       []float64
	BucketCounts []uint64
	Count        uint64
	Sum          float64
	Min          float64
	Max          float64
}

// NewDurationHistogram returns an empty histogram using the given bounds, or
// DefaultDurationBounds when bounds is empty.
func NewDurationHistogram(bounds []float64) DurationHistogram {
	if len(bounds) == 0 {
		bounds = DefaultDurationBounds
	}
	return DurationHistogram{
		Bounds:       bounds,
		BucketCounts: make([]uint64, len(bounds)+1),
		Min:          math.Inf(1),
		Max:          math.Inf(-1),
	}
}

// Observe adds a duration to the histogram.
func (h *DurationHistogram) Observe(d time.Duration) {
	v := d.Seconds()
	// Buckets are upper-inclusive, matching OTLP explicit bucket semantics.
	idx := sort.SearchFloat64s(h.Bounds, v)
	h.BucketCounts[idx]++
	h.Count++
	h.Sum += v
	if v < h.Min {
		h.Min = v
	}
	if v > h.Max {
		h.Max = v
	}
}

// Clone returns a deep copy. Bounds are shared since they are never mutated.
func (h DurationHistogram) Clone() DurationHistogram {
	c := h
	c.BucketCounts = append([]uint64(nil), h.BucketCounts...)
	return c
}

// OperationMetrics holds aggregated metrics for one instrumented operation.
type OperationMetrics struct {
	Calls     map[Outcome]uint64
	Durations DurationHistogram
}

// NewOperationMetrics returns empty metrics for an operation.
func NewOperationMetrics() *OperationMetrics {
	return &OperationMetrics{
		Calls:     make(map[Outcome]uint64),
		Durations: NewDurationHistogram(nil),
	}
}

// Add folds one observation into the aggregate.
func (m *OperationMetrics) Add(obs Observation) {
	m.Calls[obs.Outcome]++
	m.Durations.Observe(obs.Duration)
}

// TotalCalls returns the number of calls across all outcomes.
func (m OperationMetrics) TotalCalls() uint64 {
	var total uint64
	for _, n := range m.Calls {
		total += n
	}
	return total
}

// Clone returns a deep copy of the aggregate.
func (m *OperationMetrics) Clone() OperationMetrics {
	calls := make(map[Outcome]uint64, len(m.Calls))
	for k, v := range m.Calls {
		calls[k] = v
	}
	return OperationMetrics{Calls: calls, Durations: m.Durations.Clone()}
}

// SortedOutcomes returns the outcomes present in m ordered by result, then status code.
func (m OperationMetrics) SortedOutcomes() []Outcome {
	outcomes := make([]Outcome, 0, len(m.Calls))
	for o := range m.Calls {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Result != outcomes[j].Result {
			return outcomes[i].Result < outcomes[j].Result
		}
		return outcomes[i].StatusCode < outcomes[j].StatusCode
	})
	return outcomes
}

// --- Snapshot Structures (for reporting) ---

// OperationSnapshot is a read-only copy of an operation's cumulative metrics.
type OperationSnapshot struct {
	TotalCalls      uint64         `json:"total_calls"`
	OKCalls         uint64         `json:"ok_calls"`
	ErrorCalls      uint64         `json:"error_calls"`
	CallsByStatus   map[int]uint64 `json:"calls_by_status"`
	AvgDurationNs   uint64         `json:"avg_duration_ns"`
	AvgDuration     string         `json:"avg_duration"`
	DurationBounds  []float64      `json:"duration_bounds_seconds"`
	DurationBuckets []uint64       `json:"duration_buckets"`
	DurationSum     float64        `json:"duration_sum_seconds"`
}

// NewOperationSnapshot summarizes an aggregate for reporting.
func NewOperationSnapshot(m OperationMetrics) OperationSnapshot {
	snap := OperationSnapshot{
		CallsByStatus:   make(map[int]uint64),
		DurationBounds:  m.Durations.Bounds,
		DurationBuckets: append([]uint64(nil), m.Durations.BucketCounts...),
		DurationSum:     m.Durations.Sum,
	}
	for outcome, n := range m.Calls {
		snap.TotalCalls += n
		snap.CallsByStatus[outcome.StatusCode] += n
		if outcome.IsError() {
			snap.ErrorCalls += n
		} else {
			snap.OKCalls += n
		}
	}
	if m.Durations.Count > 0 {
		snap.AvgDurationNs = uint64(m.Durations.Sum / float64(m.Durations.Count) * float64(time.Second))
	}
	snap.AvgDuration = time.Duration(snap.AvgDurationNs).String()
	return snap
}
