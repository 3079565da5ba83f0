// Package prometheus exposes medrelay metrics on a pull-based /metrics endpoint.
package prometheus

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

func init() {
	observability.RegisterMetricsProvider("prometheus", func(ctx context.Context, cfg observability.ProviderConfig) (observability.MetricsProvider, error) {
		return NewProvider(cfg.ServiceName), nil
	})
}

// Provider implements observability.MetricsProvider on a private registry.
// Vectors are created lazily on first use and keyed by metric name, so every
// call for a given name must carry the same tag keys.
type Provider struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ observability.MetricsProvider = (*Provider)(nil)

// NewProvider creates a provider whose metrics live under namespace.
func NewProvider(namespace string) *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Provider{
		registry:   registry,
		namespace:  sanitizeName(namespace),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Provider) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	vec := lookup(p, p.counters, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), labels)
	})
	vec.With(toLabels(tags)).Add(float64(value))
}

func (p *Provider) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	vec := lookup(p, p.gauges, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), labels)
	})
	vec.With(toLabels(tags)).Set(value)
}

func (p *Provider) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	p.histogram(name, tags).With(toLabels(tags)).Observe(value)
}

// Timing records in seconds, following Prometheus naming conventions.
func (p *Provider) Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	p.histogram(name+"_seconds", tags).With(toLabels(tags)).Observe(duration.Seconds())
}

// Flush is a no-op; Prometheus scrapes.
func (p *Provider) Flush(ctx context.Context) error { return nil }

func (p *Provider) Close(ctx context.Context) error { return nil }

func (p *Provider) histogram(name string, tags map[string]string) *prometheus.HistogramVec {
	return lookup(p, p.histograms, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      opts.Name,
			Help:      opts.Help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	})
}

// lookup returns the vector registered for name, creating and registering it
// under the write lock if this is the first observation.
func lookup[V prometheus.Collector](p *Provider, vecs map[string]V, name string, tags map[string]string, build func(prometheus.Opts, []string) V) V {
	key := sanitizeName(name)

	p.mu.RLock()
	vec, ok := vecs[key]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = vecs[key]; ok {
		return vec
	}

	vec = build(prometheus.Opts{
		Namespace: p.namespace,
		Name:      key,
		Help:      "medrelay " + strings.ReplaceAll(name, "_", " "),
	}, labelNames(tags))
	p.registry.MustRegister(vec)
	vecs[key] = vec
	return vec
}

// sanitizeName maps name onto [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitizeName(k))
	}
	slices.Sort(names)
	return names
}

func toLabels(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		labels[sanitizeName(k)] = v
	}
	return labels
}
