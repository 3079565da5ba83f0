package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stiffinWanjohi/medrelay/internal/batch"
	"github.com/stiffinWanjohi/medrelay/internal/config"
	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
	"github.com/stiffinWanjohi/medrelay/internal/observability"
	"github.com/stiffinWanjohi/medrelay/internal/pipeline"
	"github.com/stiffinWanjohi/medrelay/internal/processor"
	"github.com/stiffinWanjohi/medrelay/internal/ratelimit"
	"github.com/stiffinWanjohi/medrelay/internal/routing"
	"github.com/stiffinWanjohi/medrelay/internal/statsstore"
	"github.com/stiffinWanjohi/medrelay/internal/stream"
)

var apiLog = logging.Component("api")

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	MaxPayloadSize  int
	MaxConcurrency  int
	BatchPolicy     batch.Policy
	ChunkSize       int
	RequestTimeout  time.Duration
	RateLimit       int
	ClientRateLimit int
	MetricsHandler  http.Handler // optional /metrics endpoint
}

// ServerConfigFrom derives the server settings from application config.
func ServerConfigFrom(cfg *config.Config) (ServerConfig, error) {
	policy, err := batch.ParsePolicy(cfg.Processing.BatchPolicy)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		MaxPayloadSize:  cfg.Processing.MaxPayloadSize,
		MaxConcurrency:  cfg.Processing.MaxConcurrency,
		BatchPolicy:     policy,
		ChunkSize:       cfg.Processing.ChunkSize,
		RequestTimeout:  cfg.API.WriteTimeout,
		RateLimit:       cfg.API.RateLimit,
		ClientRateLimit: cfg.API.ClientRateLimit,
	}, nil
}

// Components are the processing stages the server drives. Router, Pipeline
// and Processor are required; Processor is the entry point for every
// message and is expected to wrap Pipeline, which wraps Router.
type Components struct {
	Router    *routing.Router
	Pipeline  *pipeline.Pipeline
	Processor *processor.Processor
	Store     *statsstore.Store
	Limiter   *ratelimit.Limiter
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// Server is the HTTP ingestion front end.
type Server struct {
	router *chi.Mux
	cfg    ServerConfig
	c      Components
	logger *slog.Logger

	streamed atomic.Int64
}

// NewServer creates a new API server.
func NewServer(c Components, cfg ServerConfig) (*Server, error) {
	switch {
	case c.Router == nil:
		return nil, domain.NewConfigurationError("router", "is required")
	case c.Pipeline == nil:
		return nil, domain.NewConfigurationError("pipeline", "is required")
	case c.Processor == nil:
		return nil, domain.NewConfigurationError("processor", "is required")
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = config.DefaultMaxConcurrency
	}
	if cfg.MaxPayloadSize < 1 {
		cfg.MaxPayloadSize = config.MaxPayloadSize
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = config.DefaultChunkSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		c:      c,
		logger: apiLog,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.c.Metrics, s.c.Tracer))
	r.Use(loggingMiddleware())

	r.Get("/health", s.healthHandler)
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(s.c.Limiter, RateLimitConfig{
				GlobalLimit: s.cfg.RateLimit,
				ClientLimit: s.cfg.ClientRateLimit,
			}))

			// Streams are long lived and only end with the client.
			r.Post("/stream", s.handleStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.cfg.RequestTimeout))
				r.Post("/messages", s.handleMessage)
				r.Post("/messages/batch", s.handleBatch)
			})
		})

		r.Get("/stats", s.handleStats)
		r.Get("/stats/history", s.handleStatsHistory)
		r.Post("/stats/reset", s.handleStatsReset)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Snapshot collects the current counters of every stage. It doubles as the
// source for the Redis publisher.
func (s *Server) Snapshot() statsstore.Snapshot {
	return statsstore.Snapshot{
		Timestamp:      time.Now().UTC(),
		Routed:         s.c.Router.Statistics(),
		Failed:         s.c.Router.Failures(),
		Processor:      s.c.Processor.Metrics(),
		Pipeline:       s.c.Pipeline.Metrics(),
		Active:         s.c.Processor.ActiveCount(),
		StreamPosition: s.streamed.Load(),
	}
}

// ResetStatistics zeroes every stage's counters. Active work and the stream
// position are left alone.
func (s *Server) ResetStatistics() {
	s.c.Router.ResetStatistics()
	s.c.Pipeline.ResetMetrics()
	s.c.Processor.ResetMetrics()
}

func (s *Server) newStream() *stream.Pipeline {
	return stream.NewPipeline(s.c.Processor,
		stream.WithLogger(s.logger),
		stream.WithMetrics(s.c.Metrics),
		stream.WithTracer(s.c.Tracer),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				apiLog.Debug("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
