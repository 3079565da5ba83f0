package observability

import (
	"context"
	"maps"
	"net/http"
	"slices"
)

// SpanKind separates request entry points from internal work.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
)

// SpanStatus is the outcome recorded on a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is the part of a tracing span that medrelay writes to.
type Span interface {
	End()
	SetAttribute(key string, value any)
	SetStatus(status SpanStatus, description string)
	RecordError(err error)
	SpanContext() SpanContext
}

// SpanContext identifies a span, for example to correlate log lines.
type SpanContext struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// IsValid reports whether both IDs are set.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID != "" && sc.SpanID != ""
}

// Fail records err on span and marks it as failed.
func Fail(span Span, err error, reason string) {
	span.RecordError(err)
	span.SetStatus(SpanStatusError, reason)
}

// TracingProvider is implemented by tracing backends and registered by
// name with RegisterTracingProvider.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Inject writes the trace context of ctx into carrier.
	Inject(ctx context.Context, carrier TextMapCarrier)

	// Extract returns ctx extended with the remote trace context in carrier.
	Extract(ctx context.Context, carrier TextMapCarrier) context.Context

	Shutdown(ctx context.Context) error
}

// SpanConfig is the resolved form of a set of SpanOptions.
type SpanConfig struct {
	Kind       SpanKind
	Attributes map[string]any
}

// SpanOption configures a span at start.
type SpanOption func(*SpanConfig)

// NewSpanConfig applies opts in order.
func NewSpanConfig(opts ...SpanOption) SpanConfig {
	cfg := SpanConfig{Attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *SpanConfig) { c.Kind = kind }
}

// WithAttributes adds start attributes. Later options win on key clashes.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(c *SpanConfig) { maps.Copy(c.Attributes, attrs) }
}

// TextMapCarrier carries trace context across process boundaries.
type TextMapCarrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// HeaderCarrier carries trace context in HTTP headers. Keys are
// canonicalized like any other header.
type HeaderCarrier http.Header

var _ TextMapCarrier = HeaderCarrier(nil)

func (c HeaderCarrier) Get(key string) string { return http.Header(c).Get(key) }

func (c HeaderCarrier) Set(key, value string) { http.Header(c).Set(key, value) }

func (c HeaderCarrier) Keys() []string {
	return slices.Sorted(maps.Keys(c))
}

// Tracer is the handle components hold. Every method is safe on a nil
// *Tracer, which traces nothing.
type Tracer struct {
	provider TracingProvider
}

// NewTracer wraps provider.
func NewTracer(provider TracingProvider) *Tracer {
	return &Tracer{provider: provider}
}

func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	if t == nil {
		return ctx, noopSpan{}
	}
	return t.provider.StartSpan(ctx, name, opts...)
}

func (t *Tracer) Inject(ctx context.Context, carrier TextMapCarrier) {
	if t != nil {
		t.provider.Inject(ctx, carrier)
	}
}

func (t *Tracer) Extract(ctx context.Context, carrier TextMapCarrier) context.Context {
	if t == nil {
		return ctx
	}
	return t.provider.Extract(ctx, carrier)
}

func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Span names.
const (
	SpanHTTPRequest   = "http.request"
	SpanMessageRoute  = "message.route"
	SpanMessageHandle = "message.handle"
	SpanBatchRun      = "batch.run"
	SpanStreamChunk   = "stream.chunk"
)

// Attribute keys.
const (
	AttrMessageID      = "medrelay.message.id"
	AttrMessageType    = "medrelay.message.type"
	AttrMessageSize    = "medrelay.message.size"
	AttrMessageSuccess = "medrelay.message.success"
	AttrBatchSize      = "medrelay.batch.size"
	AttrBatchLimit     = "medrelay.batch.limit"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
)
