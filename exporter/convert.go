package exporter

import (
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/domain/metrics"
)

// ScopeName identifies the instrumentation scope of every exported metric.
const ScopeName = "github.com/fllarpy/apm-demo"

// Metric names follow the autometrics conventions so that existing
// dashboards and alerts work unchanged.
const (
	MetricCalls     = "function.calls"
	MetricDuration  = "function.calls.duration"
	MetricBuildInfo = "build_info"
)

// Attribute keys.
const (
	AttrFunction   = attribute.Key("function")
	AttrResult     = attribute.Key("result")
	AttrStatusCode = attribute.Key("http.response.status_code")
	AttrVersion    = attribute.Key("version")
	AttrCommit     = attribute.Key("commit")
	AttrBranch     = attribute.Key("branch")
)

func deltaTemporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.DeltaTemporality
}

// convert turns a delta into OTLP metric data. Operations are emitted in name
// order so the output is deterministic.
func (e *Exporter) convert(delta *domain.Delta) *metricdata.ResourceMetrics {
	names := make([]string, 0, len(delta.Operations))
	for name := range delta.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	calls := metricdata.Sum[int64]{
		Temporality: metricdata.DeltaTemporality,
		IsMonotonic: true,
	}
	durations := metricdata.Histogram[float64]{
		Temporality: metricdata.DeltaTemporality,
	}

	for _, name := range names {
		op := delta.Operations[name]
		for _, outcome := range op.SortedOutcomes() {
			calls.DataPoints = append(calls.DataPoints, metricdata.DataPoint[int64]{
				Attributes: attribute.NewSet(
					AttrFunction.String(name),
					AttrResult.String(string(outcome.Result)),
					AttrStatusCode.Int(outcome.StatusCode),
				),
				StartTime: delta.Start,
				Time:      delta.End,
				Value:     int64(op.Calls[outcome]),
			})
		}
		durations.DataPoints = append(durations.DataPoints, histogramPoint(name, op.Durations, delta))
	}

	var ms []metricdata.Metrics
	if len(calls.DataPoints) > 0 {
		ms = append(ms,
			metricdata.Metrics{
				Name:        MetricCalls,
				Description: "Autometrics counter for tracking function calls",
				Unit:        "{call}",
				Data:        calls,
			},
			metricdata.Metrics{
				Name:        MetricDuration,
				Description: "Autometrics histogram for tracking function call duration",
				Unit:        "s",
				Data:        durations,
			},
		)
	}
	ms = append(ms, metricdata.Metrics{
		Name:        MetricBuildInfo,
		Description: "Autometrics info metric for tracking software version and build details",
		Unit:        "{info}",
		Data: metricdata.Gauge[int64]{
			DataPoints: []metricdata.DataPoint[int64]{{
				Attributes: attribute.NewSet(
					AttrVersion.String(e.build.Version),
					AttrCommit.String(e.build.Commit),
					AttrBranch.String(e.build.Branch),
				),
				Time:  delta.End,
				Value: 1,
			}},
		},
	})

	return &metricdata.ResourceMetrics{
		Resource: e.res,
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Scope:   instrumentation.Scope{Name: ScopeName, Version: e.build.Version},
			Metrics: ms,
		}},
	}
}

func histogramPoint(name string, h metrics.DurationHistogram, delta *domain.Delta) metricdata.HistogramDataPoint[float64] {
	dp := metricdata.HistogramDataPoint[float64]{
		Attributes:   attribute.NewSet(AttrFunction.String(name)),
		StartTime:    delta.Start,
		Time:         delta.End,
		Count:        h.Count,
		Bounds:       h.Bounds,
		BucketCounts: append([]uint64(nil), h.BucketCounts...),
		Sum:          h.Sum,
	}
	if h.Count > 0 {
		dp.Min = metricdata.NewExtrema(h.Min)
		dp.Max = metricdata.NewExtrema(h.Max)
	}
	return dp
}
