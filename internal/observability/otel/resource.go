// Package otel backs the observability interfaces with the OpenTelemetry SDK,
// exporting over OTLP/gRPC when an endpoint is configured.
package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/stiffinWanjohi/medrelay/internal/observability"
)

const defaultExportInterval = 15 * time.Second

func init() {
	for _, name := range []string{"otel", "otlp"} {
		observability.RegisterMetricsProvider(name, func(ctx context.Context, cfg observability.ProviderConfig) (observability.MetricsProvider, error) {
			return NewMetricsProvider(ctx, metricsConfigFrom(cfg))
		})
		observability.RegisterTracingProvider(name, func(ctx context.Context, cfg observability.ProviderConfig) (observability.TracingProvider, error) {
			return NewTracingProvider(ctx, TracingConfig{
				ServiceName:    cfg.ServiceName,
				ServiceVersion: cfg.ServiceVersion,
				Environment:    cfg.Environment,
				OTLPEndpoint:   cfg.Endpoint,
				SampleRate:     cfg.SampleRate,
			})
		})
	}
}

func metricsConfigFrom(cfg observability.ProviderConfig) MetricsConfig {
	interval := defaultExportInterval
	if raw, ok := cfg.Options["export_interval"]; ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		} else if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	return MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Endpoint,
		ExportInterval: interval,
	}
}

func newResource(service, version, env string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", env),
		),
	)
}

func toAttributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func attributeFromAny(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	case []string:
		return attribute.StringSlice(key, v)
	case interface{ String() string }:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, "")
	}
}
