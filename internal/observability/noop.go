package observability

import (
	"context"
	"time"
)

// NoopMetricsProvider discards all measurements. It backs the "noop"
// provider name and is the default.
type NoopMetricsProvider struct{}

var _ MetricsProvider = NoopMetricsProvider{}

func (NoopMetricsProvider) Counter(context.Context, string, int64, map[string]string) {}

func (NoopMetricsProvider) Gauge(context.Context, string, float64, map[string]string) {}

func (NoopMetricsProvider) Histogram(context.Context, string, float64, map[string]string) {}

func (NoopMetricsProvider) Timing(context.Context, string, time.Duration, map[string]string) {}

func (NoopMetricsProvider) Flush(context.Context) error { return nil }

func (NoopMetricsProvider) Close(context.Context) error { return nil }

// NoopTracingProvider starts spans that record nothing and propagates no
// context.
type NoopTracingProvider struct{}

var _ TracingProvider = NoopTracingProvider{}

func (NoopTracingProvider) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (NoopTracingProvider) Inject(context.Context, TextMapCarrier) {}

func (NoopTracingProvider) Extract(ctx context.Context, _ TextMapCarrier) context.Context {
	return ctx
}

func (NoopTracingProvider) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End() {}

func (noopSpan) SetAttribute(string, any) {}

func (noopSpan) SetStatus(SpanStatus, string) {}

func (noopSpan) RecordError(error) {}

func (noopSpan) SpanContext() SpanContext { return SpanContext{} }
