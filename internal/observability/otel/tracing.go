package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

const instrumentationName = "github.com/stiffinWanjohi/medrelay"

// TracingConfig configures the OTel tracing provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // spans are sampled but not exported when empty
	SampleRate     float64 // fraction of new traces kept; parents decide otherwise
}

// TracingProvider implements observability.TracingProvider on the SDK with
// W3C trace-context and baggage propagation.
type TracingProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

var _ observability.TracingProvider = (*TracingProvider)(nil)

// NewTracingProvider builds the SDK provider and installs it, with its
// propagator, as the process-wide default.
func NewTracingProvider(ctx context.Context, cfg TracingConfig) (*TracingProvider, error) {
	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(prop)

	return &TracingProvider{
		sdk:    sdk,
		tracer: sdk.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		prop:   prop,
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *TracingProvider) StartSpan(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, observability.Span) {
	cfg := observability.NewSpanConfig(opts...)

	kind := trace.SpanKindInternal
	if cfg.Kind == observability.SpanKindServer {
		kind = trace.SpanKindServer
	}
	attrs := make([]attribute.KeyValue, 0, len(cfg.Attributes))
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attributeFromAny(k, v))
	}

	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
	return ctx, sdkSpan{span}
}

func (p *TracingProvider) Inject(ctx context.Context, carrier observability.TextMapCarrier) {
	p.prop.Inject(ctx, carrier)
}

func (p *TracingProvider) Extract(ctx context.Context, carrier observability.TextMapCarrier) context.Context {
	return p.prop.Extract(ctx, carrier)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *TracingProvider) Shutdown(ctx context.Context) error {
	return p.sdk.Shutdown(ctx)
}

// sdkSpan adapts trace.Span to observability.Span.
type sdkSpan struct {
	span trace.Span
}

func (s sdkSpan) End() { s.span.End() }

func (s sdkSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(attributeFromAny(key, value))
}

func (s sdkSpan) SetStatus(status observability.SpanStatus, description string) {
	code := codes.Unset
	switch status {
	case observability.SpanStatusOK:
		code = codes.Ok
	case observability.SpanStatusError:
		code = codes.Error
	}
	s.span.SetStatus(code, description)
}

func (s sdkSpan) RecordError(err error) { s.span.RecordError(err) }

func (s sdkSpan) SpanContext() observability.SpanContext {
	sc := s.span.SpanContext()
	if !sc.IsValid() {
		return observability.SpanContext{}
	}
	return observability.SpanContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}
