package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/stiffinWanjohi/medrelay/internal/app"
	"github.com/stiffinWanjohi/medrelay/internal/config"
	"github.com/stiffinWanjohi/medrelay/internal/logging"
)

func main() {
	logging.Init()
	logger := logging.Component("main")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.New(ctx, cfg, nil)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	quit := app.ShutdownChannel()

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		svc.RunPublisher(ctx)
	}()

	httpServer := svc.HTTPServer()

	// Start server in goroutine
	go func() {
		logger.Info("starting API server",
			"addr", cfg.API.Addr,
			"metrics", cfg.Observability.MetricsProvider,
			"tracing", cfg.Observability.TracingProvider,
			"batch_policy", cfg.Processing.BatchPolicy,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests before the final stats flush.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("HTTP server stopped")

	cancel()
	<-publisherDone

	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("service shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
