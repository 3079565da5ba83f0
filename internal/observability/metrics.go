package observability

import (
	"context"
	"strconv"
	"time"
)

// MetricsProvider is the backend behind Metrics. Names arrive already
// namespaced and dot-separated; backends rewrite them as they need.
type MetricsProvider interface {
	Counter(ctx context.Context, name string, value int64, tags map[string]string)
	Gauge(ctx context.Context, name string, value float64, tags map[string]string)
	Histogram(ctx context.Context, name string, value float64, tags map[string]string)
	Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string)

	// Flush pushes buffered samples; pull-based backends return nil.
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Metrics records medrelay's named measurements against a provider.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	provider  MetricsProvider
	namespace string
}

func NewMetrics(provider MetricsProvider, namespace string) *Metrics {
	return &Metrics{
		provider:  provider,
		namespace: namespace,
	}
}

func (m *Metrics) prefixName(name string) string {
	if m.namespace == "" {
		return name
	}
	return m.namespace + "." + name
}

// HTTP metrics

func (m *Metrics) HTTPRequestTotal(ctx context.Context, method, path, status string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("http.requests.total"), 1, map[string]string{
		"method": method,
		"path":   path,
		"status": status,
	})
}

func (m *Metrics) HTTPRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Timing(ctx, m.prefixName("http.request.duration"), duration, map[string]string{
		"method": method,
		"path":   path,
	})
}

// Processing metrics

// MessageProcessed records one completed processing call for the named component.
func (m *Metrics) MessageProcessed(ctx context.Context, component string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.provider.Counter(ctx, m.prefixName("messages.processed"), 1, map[string]string{
		"component": component,
		"outcome":   outcome,
	})
	m.provider.Timing(ctx, m.prefixName("messages.processing.duration"), duration, map[string]string{
		"component": component,
	})
}

// ActiveOperations reports the number of in-flight processing calls.
func (m *Metrics) ActiveOperations(ctx context.Context, component string, active int64) {
	if m == nil {
		return
	}
	m.provider.Gauge(ctx, m.prefixName("messages.active"), float64(active), map[string]string{
		"component": component,
	})
}

// Routing metrics

func (m *Metrics) MessageRouted(ctx context.Context, messageType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("messages.routed"), 1, map[string]string{
		"type": messageType,
	})
	m.provider.Timing(ctx, m.prefixName("messages.routing.duration"), duration, map[string]string{
		"type": messageType,
	})
}

func (m *Metrics) MessageFailed(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("messages.failed"), 1, map[string]string{
		"type": messageType,
	})
}

// MessageRejected records a payload that could not be classified.
func (m *Metrics) MessageRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("messages.rejected"), 1, map[string]string{
		"reason": reason,
	})
}

// Batch and stream metrics

func (m *Metrics) BatchCompleted(ctx context.Context, size, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("batches.completed"), 1, nil)
	m.provider.Histogram(ctx, m.prefixName("batches.size"), float64(size), nil)
	m.provider.Counter(ctx, m.prefixName("batches.items.failed"), int64(failed), nil)
	m.provider.Timing(ctx, m.prefixName("batches.duration"), duration, nil)
}

func (m *Metrics) StreamChunk(ctx context.Context, bytes int, success bool) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("stream.bytes"), int64(bytes), nil)
	m.provider.Counter(ctx, m.prefixName("stream.chunks"), 1, map[string]string{
		"success": strconv.FormatBool(success),
	})
}

// Flush flushes all pending metrics.
func (m *Metrics) Flush(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Flush(ctx)
}

// Close shuts down the metrics provider.
func (m *Metrics) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Close(ctx)
}
