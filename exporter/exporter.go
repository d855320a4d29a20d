package exporter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/internal/logger"
	"github.com/fllarpy/apm-demo/pkg/config"
)

var _ domain.Exporter = (*Exporter)(nil)

// BuildInfo is reported as the build_info gauge on every push.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
}

// Exporter converts deltas to OTLP metric data and hands them to an
// OpenTelemetry metric exporter.
type Exporter struct {
	metrics  sdkmetric.Exporter
	res      *resource.Resource
	build    BuildInfo
	endpoint string
	log      *zap.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds an OTLP exporter for cfg. Nothing is sent until the first Export.
func New(ctx context.Context, cfg config.Exporter, res *resource.Resource, build BuildInfo, log *zap.Logger) (*Exporter, error) {
	endpoint, err := config.ParseEndpoint(cfg.Endpoint, cfg.Protocol)
	if err != nil {
		return nil, err
	}

	var exp sdkmetric.Exporter
	switch cfg.Protocol {
	case config.ProtocolGRPC:
		exp, err = newGRPC(ctx, endpoint, cfg)
	case config.ProtocolHTTPProtobuf:
		exp, err = newHTTP(ctx, endpoint, cfg)
	}
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "exporter", Value: endpoint.String(), Err: err}
	}

	logger.OrNop(log).Info("OTLP metrics exporter initialized",
		zap.String("endpoint", endpoint.String()),
		zap.String("protocol", cfg.Protocol))
	return NewWithExporter(exp, endpoint.String(), res, build, log), nil
}

// NewWithExporter wraps an existing OpenTelemetry metric exporter.
func NewWithExporter(exp sdkmetric.Exporter, endpoint string, res *resource.Resource, build BuildInfo, log *zap.Logger) *Exporter {
	if res == nil {
		res = resource.Empty()
	}
	return &Exporter{
		metrics:  exp,
		res:      res,
		build:    build,
		endpoint: endpoint,
		log:      logger.OrNop(log),
	}
}

// Retries are disabled: a failed push drops its interval.
func newGRPC(ctx context.Context, endpoint *url.URL, cfg config.Exporter) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpointURL(endpoint.String()),
		otlpmetricgrpc.WithTimeout(cfg.Timeout),
		otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{Enabled: false}),
		otlpmetricgrpc.WithTemporalitySelector(deltaTemporality),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func newHTTP(ctx context.Context, endpoint *url.URL, cfg config.Exporter) (sdkmetric.Exporter, error) {
	u := *endpoint
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/v1/metrics"
	}
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpointURL(u.String()),
		otlpmetrichttp.WithTimeout(cfg.Timeout),
		otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{Enabled: false}),
		otlpmetrichttp.WithTemporalitySelector(deltaTemporality),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// Export sends one delta. Failures are returned as *domain.TransportError.
func (e *Exporter) Export(ctx context.Context, delta *domain.Delta) error {
	rm := e.convert(delta)
	if err := e.metrics.Export(ctx, rm); err != nil {
		return &domain.TransportError{Endpoint: e.endpoint, Err: err}
	}
	e.log.Debug("Exported metrics",
		zap.Uint64("observations", delta.Observations),
		zap.Int("operations", len(delta.Operations)))
	return nil
}

// Shutdown closes the underlying exporter. Subsequent calls return the first result.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.metrics.Shutdown(ctx)
		if e.shutdownErr != nil {
			e.shutdownErr = fmt.Errorf("shutdown metrics exporter: %w", e.shutdownErr)
		}
	})
	return e.shutdownErr
}
