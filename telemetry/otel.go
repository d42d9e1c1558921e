// Package telemetry implements core.Telemetry on top of OpenTelemetry.
//
// Spans go to an OTLP collector over gRPC or HTTP or, for local runs, to
// stdout. Metrics go to an OTLP/HTTP collector when one is configured and are
// otherwise kept for Collect. Values recorded under a name ending in "_ms"
// become histograms, everything else a counter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmrest/jcmrest/core"
)

// Exporters understood by NewProvider.
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlphttp"
	ExporterStdout   = "stdout"
)

const instrumentationName = "github.com/jcmrest/jcmrest"

// Option configures a Provider.
type Option func(*options)

type options struct {
	writer        io.Writer
	meterProvider metric.MeterProvider
	logger        core.Logger
	version       string
	limits        map[string]int
}

// WithWriter sets where the stdout exporter writes. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithMeterProvider replaces the SDK meter provider NewProvider would build.
// The caller keeps ownership of mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithLogger sets the logger for exporter failures.
func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithCardinalityLimits caps distinct values per metric label.
func WithCardinalityLimits(limits map[string]int) Option {
	return func(o *options) { o.limits = limits }
}

// DefaultCardinalityLimits bounds the labels the platform records.
var DefaultCardinalityLimits = map[string]int{
	"agent":   1000,
	"outcome": 16,
}

// Provider implements core.Telemetry with OpenTelemetry.
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider // nil when supplied by the caller
	manualReader  *sdkmetric.ManualReader
	limiter       *CardinalityLimiter
	logger        core.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewProvider builds a provider from cfg and installs its tracer and meter
// providers globally so otelhttp picks them up.
func NewProvider(ctx context.Context, cfg core.TelemetryConfig, opts ...Option) (*Provider, error) {
	o := options{
		writer:  os.Stdout,
		version: "dev",
		limits:  DefaultCardinalityLimits,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := core.WithComponent(o.logger, "framework/telemetry")

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "jcmrest"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, cfg, o.writer)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		limiter:    NewCardinalityLimiter(o.limits),
		logger:     logger,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}

	mp := o.meterProvider
	if mp == nil {
		reader, manual, err := newMetricReader(ctx, cfg)
		if err != nil {
			p.limiter.Stop()
			_ = exporter.Shutdown(ctx)
			return nil, err
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		p.manualReader = manual
		mp = p.meterProvider
	}

	rate := cfg.SamplingRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)

	otel.SetTracerProvider(tp)
	if p.meterProvider != nil {
		otel.SetMeterProvider(p.meterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = tp.Tracer(instrumentationName)
	p.meter = mp.Meter(instrumentationName)
	p.traceProvider = tp

	logger.Info("Telemetry initialized", map[string]interface{}{
		"exporter":         exporterName(cfg),
		"endpoint":         cfg.Endpoint,
		"metrics_endpoint": metricsEndpoint(cfg),
		"service_name":     serviceName,
		"sampling_rate":    rate,
	})

	return p, nil
}

func exporterName(cfg core.TelemetryConfig) string {
	if cfg.Exporter == "" {
		return ExporterOTLP
	}
	return strings.ToLower(cfg.Exporter)
}

func newSpanExporter(ctx context.Context, cfg core.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	name := exporterName(cfg)
	if (name == ExporterOTLP || name == ExporterOTLPHTTP) && cfg.Endpoint == "" {
		return nil, &core.FrameworkError{
			Op:      "telemetry.NewProvider",
			Kind:    "config",
			Message: name + " exporter needs an endpoint",
			Err:     core.ErrMissingConfiguration,
		}
	}

	switch name {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLPHTTP:
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp http exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, &core.FrameworkError{
			Op:      "telemetry.NewProvider",
			Kind:    "config",
			Message: fmt.Sprintf("unknown exporter %q", cfg.Exporter),
			Err:     core.ErrInvalidConfiguration,
		}
	}
}

// metricsEndpoint is where metrics are pushed, empty when they are only
// kept in memory.
func metricsEndpoint(cfg core.TelemetryConfig) string {
	if cfg.MetricsEndpoint != "" {
		return cfg.MetricsEndpoint
	}
	if exporterName(cfg) == ExporterOTLPHTTP {
		return cfg.Endpoint
	}
	return ""
}

func newMetricReader(ctx context.Context, cfg core.TelemetryConfig) (sdkmetric.Reader, *sdkmetric.ManualReader, error) {
	endpoint := metricsEndpoint(cfg)
	if endpoint == "" {
		manual := sdkmetric.NewManualReader()
		return manual, manual, nil
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil, nil
}

// Collect reads the metrics recorded so far. It only works when metrics are
// not pushed to a collector.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if p.manualReader == nil {
		return rm, &core.FrameworkError{
			Op:      "telemetry.Collect",
			Kind:    "telemetry",
			Message: "metrics are exported, not collected",
			Err:     core.ErrNotInitialized,
		}
	}
	err := p.manualReader.Collect(ctx, &rm)
	return rm, err
}

// StartSpan starts a span as a child of the span in ctx.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric adds value to the counter, or records it in the histogram,
// called name. Label values over their cardinality limit become "other".
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, p.limiter.CheckAndLimit(name, k, v)))
	}
	set := metric.WithAttributes(attrs...)

	if strings.HasSuffix(name, "_ms") {
		h, err := p.histogram(name)
		if err != nil {
			p.instrumentError(name, err)
			return
		}
		h.Record(context.Background(), value, set)
		return
	}
	c, err := p.counter(name)
	if err != nil {
		p.instrumentError(name, err)
		return
	}
	c.Add(context.Background(), value, set)
}

func (p *Provider) counter(name string) (metric.Float64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

func (p *Provider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

func (p *Provider) instrumentError(name string, err error) {
	p.logger.Warn("Failed to create metric instrument", map[string]interface{}{
		"metric": name,
		"error":  err.Error(),
	})
}

// Shutdown flushes pending spans and metrics and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.limiter.Stop()
	err := p.traceProvider.Shutdown(ctx)
	if p.meterProvider != nil {
		err = errors.Join(err, p.meterProvider.Shutdown(ctx))
	}
	return err
}

// otelSpan adapts trace.Span to core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
