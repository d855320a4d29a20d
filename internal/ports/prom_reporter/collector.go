// Package prom_reporter exposes the cumulative store as Prometheus metrics
// so the service can also be scraped.
package prom_reporter

import (
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fllarpy/apm-demo/domain"
)

// Collector is a prometheus.Collector reading from a domain.StoreReader on
// every scrape.
type Collector struct {
	store    domain.StoreReader
	calls    *prometheus.Desc
	duration *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over store.
func NewCollector(store domain.StoreReader) *Collector {
	return &Collector{
		store: store,
		calls: prometheus.NewDesc(
			"function_calls_total",
			"Autometrics counter for tracking function calls",
			[]string{"function", "result", "status_code"}, nil,
		),
		duration: prometheus.NewDesc(
			"function_calls_duration_seconds",
			"Autometrics histogram for tracking function call duration",
			[]string{"function"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.duration
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.store.GetSnapshot()

	names := make([]string, 0, len(snapshot.Raw))
	for name := range snapshot.Raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := snapshot.Raw[name]
		for _, outcome := range op.SortedOutcomes() {
			ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue,
				float64(op.Calls[outcome]),
				name, string(outcome.Result), strconv.Itoa(outcome.StatusCode))
		}

		// Prometheus buckets are cumulative; the +Inf bucket is implied by count.
		h := op.Durations
		buckets := make(map[float64]uint64, len(h.Bounds))
		var cumulative uint64
		for i, bound := range h.Bounds {
			cumulative += h.BucketCounts[i]
			buckets[bound] = cumulative
		}
		ch <- prometheus.MustNewConstHistogram(c.duration, h.Count, h.Sum, buckets, name)
	}
}
