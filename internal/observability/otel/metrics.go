package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

// MetricsConfig configures the OTel metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	ExportInterval time.Duration
}

// MetricsProvider implements observability.MetricsProvider with an SDK meter.
// Without an endpoint no reader is attached and instruments record into
// the void.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

var _ observability.MetricsProvider = (*MetricsProvider)(nil)

// NewMetricsProvider builds the meter provider and installs it globally.
func NewMetricsProvider(ctx context.Context, cfg MetricsConfig) (*MetricsProvider, error) {
	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	return &MetricsProvider{
		provider:   provider,
		meter:      provider.Meter(cfg.ServiceName),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}, nil
}

func (p *MetricsProvider) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	c := instrument(&p.mu, p.counters, name, func(n string) (metric.Int64Counter, error) {
		return p.meter.Int64Counter(n)
	})
	if c != nil {
		c.Add(ctx, value, metric.WithAttributes(toAttributes(tags)...))
	}
}

func (p *MetricsProvider) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	g := instrument(&p.mu, p.gauges, name, func(n string) (metric.Float64Gauge, error) {
		return p.meter.Float64Gauge(n)
	})
	if g != nil {
		g.Record(ctx, value, metric.WithAttributes(toAttributes(tags)...))
	}
}

func (p *MetricsProvider) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if h := p.histogram(name); h != nil {
		h.Record(ctx, value, metric.WithAttributes(toAttributes(tags)...))
	}
}

func (p *MetricsProvider) Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	if h := p.histogram(name); h != nil {
		h.Record(ctx, duration.Seconds(), metric.WithAttributes(toAttributes(tags)...))
	}
}

func (p *MetricsProvider) Flush(ctx context.Context) error {
	return p.provider.ForceFlush(ctx)
}

func (p *MetricsProvider) Close(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

func (p *MetricsProvider) histogram(name string) metric.Float64Histogram {
	return instrument(&p.mu, p.histograms, name, func(n string) (metric.Float64Histogram, error) {
		return p.meter.Float64Histogram(n)
	})
}

// instrument returns the cached instrument for name or creates one.
// A creation error leaves the cache untouched and yields the zero value.
func instrument[I any](mu *sync.RWMutex, cache map[string]I, name string, create func(string) (I, error)) I {
	mu.RLock()
	inst, ok := cache[name]
	mu.RUnlock()
	if ok {
		return inst
	}

	mu.Lock()
	defer mu.Unlock()
	if inst, ok = cache[name]; ok {
		return inst
	}

	inst, err := create(name)
	if err != nil {
		var zero I
		return zero
	}
	cache[name] = inst
	return inst
}
