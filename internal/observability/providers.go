package observability

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ProviderConfig is passed to metrics and tracing provider factories.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string            // OTLP collector address, when the provider pushes
	SampleRate     float64           // tracing only
	Options        map[string]string // provider-specific extras
}

// MetricsProviderFactory creates a MetricsProvider from configuration.
type MetricsProviderFactory func(ctx context.Context, cfg ProviderConfig) (MetricsProvider, error)

// TracingProviderFactory creates a TracingProvider from configuration.
type TracingProviderFactory func(ctx context.Context, cfg ProviderConfig) (TracingProvider, error)

// registry maps provider names to factories of one kind.
type registry[F any] struct {
	mu        sync.RWMutex
	kind      string
	factories map[string]F
}

func newRegistry[F any](kind string) *registry[F] {
	return &registry[F]{kind: kind, factories: make(map[string]F)}
}

func (r *registry[F]) add(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *registry[F]) lookup(name string) (F, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return f, fmt.Errorf("unknown %s provider: %s (available: %v)", r.kind, name, r.names())
	}
	return f, nil
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

var (
	metricsRegistry = newRegistry[MetricsProviderFactory]("metrics")
	tracingRegistry = newRegistry[TracingProviderFactory]("tracing")
)

// RegisterMetricsProvider makes a metrics backend selectable by name.
// Provider packages call this from init, so the binary blank-imports them:
//
//	import _ "github.com/stiffinWanjohi/medrelay/internal/observability/prometheus"
func RegisterMetricsProvider(name string, factory MetricsProviderFactory) {
	metricsRegistry.add(name, factory)
}

func RegisterTracingProvider(name string, factory TracingProviderFactory) {
	tracingRegistry.add(name, factory)
}

// NewMetricsProviderByName creates a metrics provider by name.
// An empty name or "noop" yields a NoopMetricsProvider.
func NewMetricsProviderByName(ctx context.Context, name string, cfg ProviderConfig) (MetricsProvider, error) {
	if name == "" || name == "noop" {
		return NoopMetricsProvider{}, nil
	}
	factory, err := metricsRegistry.lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg)
}

// NewTracingProviderByName is the tracing counterpart of
// NewMetricsProviderByName.
func NewTracingProviderByName(ctx context.Context, name string, cfg ProviderConfig) (TracingProvider, error) {
	if name == "" || name == "noop" {
		return NoopTracingProvider{}, nil
	}
	factory, err := tracingRegistry.lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg)
}

func ListMetricsProviders() []string { return metricsRegistry.names() }

func ListTracingProviders() []string { return tracingRegistry.names() }

// Stack bundles the metrics and tracing facades built at startup.
type Stack struct {
	Metrics         *Metrics
	Tracer          *Tracer
	MetricsProvider MetricsProvider
}

// NewStack resolves both providers by name and wraps them.
func NewStack(ctx context.Context, metricsName, tracingName string, cfg ProviderConfig) (*Stack, error) {
	mp, err := NewMetricsProviderByName(ctx, metricsName, cfg)
	if err != nil {
		return nil, err
	}
	tp, err := NewTracingProviderByName(ctx, tracingName, cfg)
	if err != nil {
		_ = mp.Close(ctx)
		return nil, err
	}
	return &Stack{
		Metrics:         NewMetrics(mp, cfg.ServiceName),
		Tracer:          NewTracer(tp),
		MetricsProvider: mp,
	}, nil
}

// Shutdown flushes and closes both providers.
func (s *Stack) Shutdown(ctx context.Context) error {
	return errors.Join(
		s.Metrics.Flush(ctx),
		s.Metrics.Close(ctx),
		s.Tracer.Shutdown(ctx),
	)
}
