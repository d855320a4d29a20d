package apm_demo

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/domain/metrics"
	"github.com/fllarpy/apm-demo/exporter"
	"github.com/fllarpy/apm-demo/pkg/config"
)

type recordingExporter struct {
	mu        sync.Mutex
	deltas    []*domain.Delta
	shutdowns int
}

func (r *recordingExporter) Export(_ context.Context, delta *domain.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, delta)
	return nil
}

func (r *recordingExporter) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
	return nil
}

func (r *recordingExporter) observations() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for _, d := range r.deltas {
		n += d.Observations
	}
	return n
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: "apm-demo-test",
		Exporter: config.Exporter{
			Endpoint:     "http://127.0.0.1:4317",
			Protocol:     config.ProtocolGRPC,
			PushInterval: time.Hour,
			Timeout:      time.Second,
		},
		Tracing: config.Tracing{SampleRatio: 1},
	}
}

func TestNewProbe_FlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	res, err := newResource("apm-demo-test", "1.0.0")
	require.NoError(t, err)

	exp := &recordingExporter{}
	probe, err := newProbe(ctx, testConfig(), res, exp, nil)
	require.NoError(t, err)

	probe.Recorder().Record(metrics.Observation{Operation: "index", Outcome: metrics.OutcomeFromStatus(http.StatusOK), Duration: time.Millisecond})
	probe.Recorder().Record(metrics.Observation{Operation: "error_function", Outcome: metrics.OutcomeFromStatus(http.StatusInternalServerError), Duration: time.Millisecond})

	snap := probe.Store().GetSnapshot()
	assert.Len(t, snap.Operations, 2)

	require.NoError(t, probe.Shutdown(ctx))
	assert.Equal(t, uint64(2), exp.observations())
	assert.Equal(t, 1, exp.shutdowns)
	assert.Equal(t, uint64(1), probe.Stats().Exports)
}

func TestNewProbe_InvalidPushInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.PushInterval = 0

	exp := &recordingExporter{}
	_, err := newProbe(context.Background(), cfg, nil, exp, nil)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 1, exp.shutdowns, "exporter is released when construction fails")
}

func TestNewProbe_MalformedEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Exporter.Endpoint = "http://bad host"

	_, err := NewProbe(context.Background(), cfg, exporter.BuildInfo{}, nil)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "exporter.endpoint", cfgErr.Field)
}

func TestNewProbe_TracingExporter(t *testing.T) {
	ctx := context.Background()
	for _, protocol := range []string{config.ProtocolGRPC, config.ProtocolHTTPProtobuf} {
		t.Run(protocol, func(t *testing.T) {
			cfg := testConfig()
			cfg.Exporter.Protocol = protocol
			cfg.Tracing.Enabled = true

			probe, err := NewProbe(ctx, cfg, exporter.BuildInfo{Version: "1.0.0"}, nil)
			require.NoError(t, err)

			_, span := probe.TracerProvider().Tracer("test").Start(ctx, "op")
			assert.True(t, span.SpanContext().IsValid())
			span.End()

			// Nothing listens on the collector address; the flush error is reported, not fatal.
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			_ = probe.Shutdown(shutdownCtx)
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("apm-demo", "1.2.3")
	require.NoError(t, err)

	attrs := attribute.NewSet(res.Attributes()...)
	name, ok := attrs.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "apm-demo", name.AsString())

	version, ok := attrs.Value("service.version")
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())

	instance, ok := attrs.Value("service.instance.id")
	require.True(t, ok)
	assert.NotEmpty(t, instance.AsString())
}
