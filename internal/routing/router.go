// Package routing classifies payloads and dispatches them to the handler
// for their wire format, keeping per-format outcome counters.
package routing

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/classify"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

var log = logging.Component("routing")

// Handlers maps every message type to its handler. Adding a message type
// means adding a field here and a case in For.
type Handlers struct {
	V2   domain.Handler
	V3   domain.Handler
	FHIR domain.Handler
}

// For returns the handler registered for t.
func (h Handlers) For(t domain.MessageType) (domain.Handler, bool) {
	switch t {
	case domain.MessageTypeV2:
		return h.V2, h.V2 != nil
	case domain.MessageTypeV3:
		return h.V3, h.V3 != nil
	case domain.MessageTypeFHIR:
		return h.FHIR, h.FHIR != nil
	case domain.MessageTypeUnknown:
		return nil, false
	}
	return nil, false
}

// Option configures a Router.
type Option func(*Router)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics records routing outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer opens a span per routed message.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithClassifier replaces the content classifier.
func WithClassifier(fn classify.Func) Option {
	return func(r *Router) {
		if fn != nil {
			r.classify = fn
		}
	}
}

// Router classifies and dispatches payloads. Successful routes are counted
// in Statistics and handler failures in Failures; a payload that does not
// classify touches neither.
type Router struct {
	handlers Handlers
	classify classify.Func
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	mu       sync.Mutex
	stats    map[domain.MessageType]uint64
	failures map[domain.MessageType]uint64
}

var _ domain.MessageProcessor = (*Router)(nil)

// NewRouter returns a ConfigurationError if any message type lacks a handler.
func NewRouter(h Handlers, opts ...Option) (*Router, error) {
	for _, t := range domain.AllMessageTypes() {
		if _, ok := h.For(t); !ok {
			return nil, domain.NewConfigurationError("handlers."+t.String(), "handler is required")
		}
	}

	r := &Router{
		handlers: h,
		classify: classify.Classify,
		logger:   log,
		stats:    make(map[domain.MessageType]uint64),
		failures: make(map[domain.MessageType]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Route classifies payload and hands it to the matching handler.
//
// A payload that does not classify yields a failed result and a
// *domain.FormatError. A handler failure yields a failed result whose
// error wraps domain.ErrProcessing, and a nil error: the failure is
// carried in the result.
func (r *Router) Route(ctx context.Context, payload []byte) (domain.ProcessingResult, error) {
	start := time.Now()
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanMessageRoute,
		observability.WithAttributes(map[string]any{
			observability.AttrMessageSize: len(payload),
		}),
	)
	defer span.End()

	t, err := r.classifyPayload(payload)
	if err != nil {
		observability.Fail(span, err, "unclassified")
		r.metrics.MessageRejected(ctx, "unclassified")
		r.logger.Debug("payload rejected", slog.Int("size", len(payload)), slog.String("error", err.Error()))
		res := domain.NewFailureResult(payload, err, time.Since(start))
		span.SetAttribute(observability.AttrMessageID, res.ID.String())
		return res, err
	}
	span.SetAttribute(observability.AttrMessageType, t.String())

	// NewRouter guarantees a handler for every valid type.
	handler, _ := r.handlers.For(t)
	doc, herr := r.handle(ctx, handler, payload, t)
	duration := time.Since(start)

	if herr != nil {
		perr := domain.NewProcessingError(t, herr)
		r.count(r.failures, t)
		r.metrics.MessageFailed(ctx, t.String())
		observability.Fail(span, perr, "handler failed")
		r.logger.Warn("handler failed",
			slog.String("type", t.String()),
			slog.Duration("duration", duration),
			slog.String("error", herr.Error()),
		)
		res := domain.NewFailureResult(payload, perr, duration).WithType(t)
		span.SetAttribute(observability.AttrMessageID, res.ID.String())
		return res, nil
	}

	r.count(r.stats, t)
	r.metrics.MessageRouted(ctx, t.String(), duration)
	res := domain.NewSuccessResult(payload, duration).WithType(t).WithDocument(doc)
	span.SetAttribute(observability.AttrMessageID, res.ID.String())
	span.SetAttribute(observability.AttrMessageSuccess, true)
	span.SetStatus(observability.SpanStatusOK, "")
	return res, nil
}

// Process implements domain.MessageProcessor.
func (r *Router) Process(ctx context.Context, payload []byte) (domain.ProcessingResult, error) {
	return r.Route(ctx, payload)
}

// Statistics returns a copy of the successful-route counters. Types that
// were never routed are absent.
func (r *Router) Statistics() map[domain.MessageType]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.stats)
}

// Failures returns a copy of the handler-failure counters.
func (r *Router) Failures() map[domain.MessageType]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.failures)
}

// ResetStatistics clears both counter maps.
func (r *Router) ResetStatistics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.stats)
	clear(r.failures)
}

func (r *Router) count(m map[domain.MessageType]uint64, t domain.MessageType) {
	r.mu.Lock()
	m[t]++
	r.mu.Unlock()
}

func (r *Router) classifyPayload(payload []byte) (domain.MessageType, error) {
	t, err := r.classify(payload)
	switch {
	case err != nil && !errors.Is(err, domain.ErrFormat):
		return domain.MessageTypeUnknown, domain.NewFormatError(err.Error())
	case err != nil:
		return domain.MessageTypeUnknown, err
	case !t.IsValid():
		return domain.MessageTypeUnknown, domain.NewFormatError("classifier returned " + t.String())
	}
	return t, nil
}

func (r *Router) handle(ctx context.Context, h domain.Handler, payload []byte, t domain.MessageType) (any, error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanMessageHandle)
	defer span.End()
	return domain.Invoke(ctx, h, payload, t)
}
