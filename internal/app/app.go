// Package app assembles the processing stages, transport and observability
// into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/medrelay/internal/api"
	"github.com/stiffinWanjohi/medrelay/internal/config"
	"github.com/stiffinWanjohi/medrelay/internal/formats"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
	"github.com/stiffinWanjohi/medrelay/internal/pipeline"
	"github.com/stiffinWanjohi/medrelay/internal/processor"
	"github.com/stiffinWanjohi/medrelay/internal/ratelimit"
	"github.com/stiffinWanjohi/medrelay/internal/routing"
	"github.com/stiffinWanjohi/medrelay/internal/statsstore"

	// Register metrics and tracing backends.
	_ "github.com/stiffinWanjohi/medrelay/internal/observability/otel"
	_ "github.com/stiffinWanjohi/medrelay/internal/observability/prometheus"
)

var log = logging.Component("app")

// Services holds all initialized application services.
type Services struct {
	Config    *config.Config
	Obs       *observability.Stack
	Redis     *redis.Client
	Router    *routing.Router
	Pipeline  *pipeline.Pipeline
	Processor *processor.Processor
	Store     *statsstore.Store
	Server    *api.Server
}

// Close releases Redis and flushes observability.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Obs != nil {
		errs = append(errs, s.Obs.Shutdown(ctx))
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}

// NewObservability builds the metrics and tracing stack named in cfg.
func NewObservability(ctx context.Context, cfg *config.Config) (*observability.Stack, error) {
	stack, err := observability.NewStack(ctx,
		cfg.Observability.MetricsProvider,
		cfg.Observability.TracingProvider,
		observability.ProviderConfig{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: cfg.Observability.ServiceVersion,
			Environment:    cfg.Observability.Environment,
			Endpoint:       cfg.Observability.OTLPEndpoint,
			SampleRate:     cfg.Observability.SampleRate,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	return stack, nil
}

// NewHandlers returns the built-in format handlers, gated by the configured
// script when one is set.
func NewHandlers(cfg *config.Config) (routing.Handlers, error) {
	hs, err := formats.DefaultHandlers()
	if err != nil {
		return routing.Handlers{}, err
	}
	if cfg.Processing.ScriptFile == "" {
		return hs, nil
	}

	src, err := os.ReadFile(cfg.Processing.ScriptFile)
	if err != nil {
		return routing.Handlers{}, fmt.Errorf("read script %s: %w", cfg.Processing.ScriptFile, err)
	}
	return formats.Gate(hs, string(src), cfg.Processing.ScriptTimeout)
}

// New wires every service. A Redis client is only created when cfg names
// one; pass redisClient to reuse an existing connection instead.
func New(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	svc := &Services{Config: cfg, Redis: redisClient}

	obs, err := NewObservability(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc.Obs = obs

	if svc.Redis == nil && cfg.Redis.URL != "" {
		client, err := statsstore.Connect(ctx, cfg.Redis)
		if err != nil {
			_ = svc.Close(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svc.Redis = client
		log.Info("connected to redis", "pool_size", cfg.Redis.PoolSize)
	}

	if err := svc.build(cfg); err != nil {
		_ = svc.Close(ctx)
		return nil, err
	}
	return svc, nil
}

func (s *Services) build(cfg *config.Config) error {
	hs, err := NewHandlers(cfg)
	if err != nil {
		return err
	}

	metrics, tracer := s.Obs.Metrics, s.Obs.Tracer

	s.Router, err = routing.NewRouter(hs,
		routing.WithMetrics(metrics),
		routing.WithTracer(tracer),
	)
	if err != nil {
		return err
	}

	s.Pipeline = pipeline.New(s.Router,
		pipeline.WithValidators(
			pipeline.NotEmpty(),
			pipeline.MaxSize(cfg.Processing.MaxPayloadSize),
		),
		pipeline.WithMetrics(metrics),
	)
	s.Processor = processor.Wrap(s.Pipeline,
		processor.WithName("ingest"),
		processor.WithMetrics(metrics),
	)

	var limiter *ratelimit.Limiter
	if s.Redis != nil {
		s.Store = statsstore.NewStore(s.Redis, statsstore.WithKeyPrefix(cfg.Redis.KeyPrefix))
		limiter = ratelimit.New(s.Redis, ratelimit.WithKeyPrefix(cfg.Redis.KeyPrefix))
	}

	serverCfg, err := api.ServerConfigFrom(cfg)
	if err != nil {
		return err
	}
	if h, ok := s.Obs.MetricsProvider.(interface{ Handler() http.Handler }); ok {
		serverCfg.MetricsHandler = h.Handler()
	}

	s.Server, err = api.NewServer(api.Components{
		Router:    s.Router,
		Pipeline:  s.Pipeline,
		Processor: s.Processor,
		Store:     s.Store,
		Limiter:   limiter,
		Metrics:   metrics,
		Tracer:    tracer,
	}, serverCfg)
	return err
}

// RunPublisher pushes snapshots to Redis until ctx is done. It returns
// immediately when no store is configured.
func (s *Services) RunPublisher(ctx context.Context) {
	if s.Store == nil {
		return
	}
	s.Store.Run(ctx, s.Config.Redis.PublishInterval, s.Server.Snapshot)
}

// HTTPServer returns an http.Server for the API with configured timeouts.
func (s *Services) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.Config.API.Addr,
		Handler:      s.Server.Handler(),
		ReadTimeout:  s.Config.API.ReadTimeout,
		WriteTimeout: s.Config.API.WriteTimeout,
		IdleTimeout:  s.Config.API.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}
}

// ShutdownChannel returns a channel that receives shutdown signals.
func ShutdownChannel() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}
