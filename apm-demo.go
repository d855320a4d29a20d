package apm_demo

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/domain"
	"github.com/fllarpy/apm-demo/exporter"
	"github.com/fllarpy/apm-demo/infrastructure/storage/inmemory"
	"github.com/fllarpy/apm-demo/internal/application/pipeline"
	"github.com/fllarpy/apm-demo/internal/logger"
	"github.com/fllarpy/apm-demo/pkg/config"
)

// Probe owns the process-wide metrics state: the aggregation store, the
// periodic export pipeline and the tracer provider. It is built once at
// startup and handed to the HTTP layer.
type Probe struct {
	store    *inmemory.Store
	pipeline *pipeline.Pipeline
	tp       *sdktrace.TracerProvider
	log      *zap.Logger
}

// NewProbe validates the exporter configuration, builds the pipeline and
// starts its periodic export. Misconfiguration is reported as a
// *domain.ConfigurationError before anything is sent.
func NewProbe(ctx context.Context, cfg *config.Config, build exporter.BuildInfo, log *zap.Logger) (*Probe, error) {
	log = logger.OrNop(log)

	res, err := newResource(cfg.ServiceName, build.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	exp, err := exporter.New(ctx, cfg.Exporter, res, build, log)
	if err != nil {
		return nil, err
	}

	return newProbe(ctx, cfg, res, exp, log)
}

// newProbe wires a probe around an already constructed exporter.
func newProbe(ctx context.Context, cfg *config.Config, res *resource.Resource, exp domain.Exporter, log *zap.Logger) (*Probe, error) {
	log = logger.OrNop(log)
	store := inmemory.NewStore()
	p, err := pipeline.New(store, exp, pipeline.Options{
		PushInterval:  cfg.Exporter.PushInterval,
		ExportTimeout: cfg.Exporter.Timeout,
	}, log)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	p.Start()
	log.Info("APM probe initialized",
		zap.String("service", cfg.ServiceName),
		zap.Duration("push_interval", cfg.Exporter.PushInterval),
		zap.Bool("tracing", cfg.Tracing.Enabled))

	return &Probe{
		store:    store,
		pipeline: p,
		tp:       tp,
		log:      log,
	}, nil
}

// Recorder is the handle instrumented handlers report to.
func (p *Probe) Recorder() domain.Recorder {
	return p.pipeline
}

// Store exposes the cumulative view for reporters.
func (p *Probe) Store() domain.StoreReader {
	return p.store
}

// TracerProvider is used by the HTTP tracing middleware.
func (p *Probe) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Stats returns the pipeline's export counters.
func (p *Probe) Stats() pipeline.Stats {
	return p.pipeline.Stats()
}

// ForceFlush synchronously exports everything not yet pushed.
func (p *Probe) ForceFlush(ctx context.Context) error {
	return p.pipeline.ForceFlush(ctx)
}

// Shutdown stops the periodic export, performs the final forced flush and
// releases the exporters. Errors from each step are combined.
func (p *Probe) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := p.pipeline.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown tracer provider: %w", err))
	}
	return result.ErrorOrNil()
}

func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("service.instance.id", xid.New().String()),
		),
	)
}

// newTracerProvider always returns a provider so that trace ids exist for
// request logs; spans leave the process only when tracing is enabled.
func newTracerProvider(ctx context.Context, cfg *config.Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	}
	if cfg.Tracing.Enabled {
		spanExporter, err := newSpanExporter(ctx, cfg.Exporter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(spanExporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newSpanExporter(ctx context.Context, cfg config.Exporter) (sdktrace.SpanExporter, error) {
	endpoint, err := config.ParseEndpoint(cfg.Endpoint, cfg.Protocol)
	if err != nil {
		return nil, err
	}

	var exp sdktrace.SpanExporter
	switch cfg.Protocol {
	case config.ProtocolGRPC:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(endpoint.String()),
			otlptracegrpc.WithTimeout(cfg.Timeout),
			otlptracegrpc.WithHeaders(cfg.Headers))
	default:
		u := *endpoint
		if u.Path == "" || u.Path == "/" {
			u.Path = "/v1/traces"
		}
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(u.String()),
			otlptracehttp.WithTimeout(cfg.Timeout),
			otlptracehttp.WithHeaders(cfg.Headers))
	}
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "tracing", Value: endpoint.String(), Err: err}
	}
	return exp, nil
}
