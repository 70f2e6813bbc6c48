package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/gateway"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/prefs"
	"github.com/lexiqai/caption-gateway/internal/resilience"
	"github.com/lexiqai/caption-gateway/internal/translate"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.Logger()

	for _, warning := range cfg.Warnings() {
		logger.Warn().Msg(warning)
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("translation_provider", cfg.TranslationProvider).
		Bool("deepgram", cfg.DeepgramAPIKey != "").
		Bool("cartesia", cfg.CartesiaAPIKey != "").
		Bool("demo_mode", cfg.DemoMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption Gateway Service starting")

	// Preferences live in Redis when configured, in memory otherwise
	var store prefs.Store = prefs.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := prefs.NewRedisStore(cfg.RedisURL, prefs.DefaultTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		store = redisStore
		logger.Info().Msg("Storing client preferences in Redis")
	}
	defer store.Close()

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	breakers := translate.NewBreakers(cfg.CircuitBreakerMaxFailures, resetTimeout)
	deepgramBreaker := resilience.NewCircuitBreaker("deepgram", cfg.CircuitBreakerMaxFailures, resetTimeout)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	captions := gateway.NewHandler(gateway.Dependencies{
		Config:          cfg,
		Store:           store,
		Breakers:        breakers,
		DeepgramBreaker: deepgramBreaker,
		Retry:           retry,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
	})

	// Readiness checks; translation always has the keyless fallbacks, so only
	// an explicitly selected provider can make it unready
	checks := map[string]observability.HealthCheckFunc{
		"preferences": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"translation": func(ctx context.Context) (bool, error) {
			if cfg.TranslationProvider == config.ProviderAuto {
				return true, nil
			}
			if warnings := cfg.Warnings(); len(warnings) > 0 {
				return false, fmt.Errorf("%s", warnings[0])
			}
			if state := breakers.Get(cfg.TranslationProvider).State(); state == resilience.StateOpen {
				return false, fmt.Errorf("%s circuit breaker is open", cfg.TranslationProvider)
			}
			return true, nil
		},
	}
	if cfg.DeepgramAPIKey != "" {
		checks["deepgram"] = func(ctx context.Context) (bool, error) {
			if deepgramBreaker.State() == resilience.StateOpen {
				return false, fmt.Errorf("deepgram circuit breaker is open")
			}
			return true, nil
		}
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/captions/ws", captions)
	mux.HandleFunc("/health", observability.HealthCheckHandler(captions.ActiveConnections))
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WebSocket connections are long lived, so no write timeout here
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// gRPC health service for orchestrators
	var grpcServer *grpc.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
		}
		grpcHealth := observability.NewGRPCHealth(checks, 15*time.Second)
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, grpcHealth.Server())

		go grpcHealth.Run(ctx)
		go func() {
			logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health server listening")
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC server stopped")
			}
		}()
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/captions/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := captions.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("open_connections", captions.ActiveConnections()).Msg("Client sessions did not close in time")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	logger.Info().Msg("Server exited gracefully")
}
