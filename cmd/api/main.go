package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/llm-router/cmd/mainconfig"
	"github.com/wolfman30/llm-router/internal/api/router"
	"github.com/wolfman30/llm-router/internal/app/bootstrap"
	"github.com/wolfman30/llm-router/internal/chat"
	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/llm-router/internal/http/middleware"
	"github.com/wolfman30/llm-router/internal/observability/metrics"
	"github.com/wolfman30/llm-router/internal/project"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/webchat"
	"github.com/wolfman30/llm-router/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting llm-router API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	application, err := newApp(cfg, logger, redisClient, bootstrap.ProviderDeps{
		BedrockFactory: mainconfig.BedrockFactory(cfg),
	})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// Streams run up to PROVIDER_TIMEOUT, so no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler http.Handler
	limiter *httpmiddleware.RateLimiter
	redis   *redis.Client
}

func (a *app) Close() {
	a.limiter.Stop()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// newApp wires every component. redisClient may be nil; project settings are
// then unavailable and every request uses defaults.
func newApp(cfg *appconfig.Config, logger *logging.Logger, redisClient *redis.Client, deps bootstrap.ProviderDeps) (*app, error) {
	if cfg.SigningKey == "" {
		logger.Warn("SIGNING_KEY not set; encrypted provider credentials cannot be read")
	}
	resolver := secrets.NewResolver(cfg.SigningKey)

	registry, err := bootstrap.BuildRegistry(cfg, resolver, deps, logger)
	if err != nil {
		return nil, err
	}
	defaultProvider, err := bootstrap.DefaultProvider(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := chat.Options{
		Retriever:       bootstrap.BuildRetriever(cfg, logger),
		Metrics:         metrics.NewProviderMetrics(reg),
		Logger:          logger,
		DefaultProvider: defaultProvider,
	}

	store := bootstrap.BuildSettingsStore(redisClient)
	var settingsHandler *project.Handler
	var ping handlers.Pinger
	if store != nil {
		opts.Settings = store
		settingsHandler = project.NewHandler(store, resolver, logger)
		ping = handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	chatRouter := chat.NewRouter(registry, opts)

	kinds := make([]string, 0, len(registry.Kinds()))
	for _, k := range registry.Kinds() {
		kinds = append(kinds, string(k))
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := router.New(&router.Config{
		Logger:             logger,
		Chat:               handlers.NewChatHandler(chatRouter, logger),
		Health:             handlers.NewHealthHandler(kinds, ping, logger),
		WebChat:            webchat.NewHandler(chatRouter, cfg.CORSAllowedOrigins, logger),
		ProjectSettings:    settingsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		ServiceName:        "llm-router",
	})
	return &app{handler: handler, limiter: limiter, redis: redisClient}, nil
}
