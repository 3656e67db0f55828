// Package main is the entry point for the evalmap API server.
//
// It loads the configuration, builds the metadata cache, the outbound
// clients, the panel pipeline and registry, wires the HTTP handlers into the
// core server, and starts serving.
//
// Locally it runs as a standard HTTP server on the configured port. Inside
// AWS Lambda (or with LAMBDA_MODE=true) API Gateway proxy events are bridged
// to the same router through the chi adapter; the stateful panel routes are
// not mounted there.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"evalmap/internal/api/handlers"
	"evalmap/internal/cache"
	"evalmap/internal/config"
	"evalmap/internal/core"
	"evalmap/internal/external"
	"evalmap/internal/panel"
	"evalmap/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("evalmap API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	if lambdaMode(cfg) {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer assembles every dependency and returns a server with routes
// mounted. Resources that need releasing are registered as shutdown hooks.
func buildServer(cfg *config.Config, logger *slog.Logger, opts ...external.RegistryOption) (*core.Server, error) {
	metrics := telemetry.New()
	metrics.SetBuildInfo(cfg.Build.Version, cfg.Build.Commit)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = metrics
	srv.MetricsHandler = metrics.Handler()

	metadataCache, err := newMetadataCache(cfg, logger, srv)
	if err != nil {
		return nil, err
	}

	clients := external.NewClientRegistry(cfg, logger,
		append([]external.RegistryOption{
			external.WithMetadataCache(metadataCache),
			external.WithFetchObserver(metrics),
		}, opts...)...,
	)

	pipeline := panel.NewPipeline(clients.Tiles, cfg.Panel.FetchConcurrency, logger.With("component", "pipeline"))

	srv.HealthProbes = append(srv.HealthProbes,
		core.ProbeFunc("tile_server", clients.Tiles.Ping),
		core.ProbeFunc("metadata_cache", metadataCache.Ping),
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		handlers.NewLayerHandler(pipeline, srv.Validator, logger).RegisterRoutes,
		handlers.NewCatalogHandler(clients.Basemap, cfg.Basemap.Flavor, srv.Validator, logger).RegisterRoutes,
		handlers.NewTableHandler(srv.Validator, logger).RegisterRoutes,
	)

	// Panel runtimes poll in the background and live in process memory. A
	// Lambda instance is frozen between invocations and never shares memory
	// with its siblings, so panels are only served by the long-running server.
	if lambdaMode(cfg) {
		logger.Info("panel routes disabled in Lambda mode")
	} else {
		registry := panel.NewRegistry(pipeline, panel.NewVariableStore(), panel.RegistryConfig{
			Runtime: panel.RuntimeConfig{
				PollInterval: cfg.Panel.PollInterval,
				SettleWindow: cfg.Panel.SettleWindow,
			},
			MaxPanels: cfg.Panel.MaxPanels,
			Observer:  metrics,
			Logger:    logger.With("component", "panels"),
		})
		srv.OnShutdown(func(context.Context) error {
			registry.Close()
			return nil
		})
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
			handlers.NewPanelHandler(registry, srv.Validator, logger).RegisterRoutes,
		)
	}

	srv.MountRoutes()
	return srv, nil
}

// pingableCache is a metadata cache the health check can probe.
type pingableCache interface {
	external.MetadataCache
	Ping(ctx context.Context) error
}

// newMetadataCache selects Redis when REDIS_URL is set and the in-process
// cache otherwise.
func newMetadataCache(cfg *config.Config, logger *slog.Logger, srv *core.Server) (pingableCache, error) {
	if !cfg.Cache.RedisURL.IsSet() {
		logger.Info("using in-process metadata cache", "ttl", cfg.Cache.MetadataTTL)
		return cache.NewMemoryCache(cfg.Cache.MetadataTTL, cache.DefaultMemoryEntries), nil
	}

	client, err := cache.NewRedisClient(cfg.Cache.RedisURL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("creating redis client: %w", err)
	}
	srv.OnShutdown(func(context.Context) error {
		return client.Close()
	})
	logger.Info("using redis metadata cache", "ttl", cfg.Cache.MetadataTTL)
	return cache.NewRedisCache(client, cfg.Cache.MetadataTTL), nil
}

// lambdaMode reports whether the process serves API Gateway events.
func lambdaMode(cfg *config.Config) bool {
	return cfg.Server.Lambda || isLambdaEnvironment()
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasFunctionName := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME")
	return hasRuntimeAPI || hasFunctionName
}

// runLambda serves API Gateway proxy events until the runtime stops the
// process. lambda.Start never returns on success.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.Start(core.LambdaHandler(srv.Router()))
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Panel runtimes and the cache client.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
