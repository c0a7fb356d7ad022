package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/cache"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/config"
	httphandler "github.com/kjstillabower/weather-gateway/internal/http"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/service"
)

const serviceName = "weather-gateway"

func main() {
	logger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("config loaded", zap.String("env", cfg.Env), zap.String("version", cfg.Version))

	shutdownTracing, err := observability.SetupTracing(context.Background(), serviceName, cfg.Version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	weatherClient := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherBaseURL, cfg.GeoURL, cfg.WeatherAPITimeout)
	if !weatherClient.HasAPIKey() {
		logger.Warn("OpenWeather API key not configured; weather endpoints will fail until it is set")
	}

	if cfg.CircuitBreakerEnabled {
		weatherClient.SetCircuitBreaker(newBreaker(cfg, logger))
		logger.Info("circuit breaker enabled", zap.Uint32("max_failures", cfg.CircuitBreakerMaxFailures), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	store, memcached := newStore(cfg, logger)

	weatherService := service.NewWeatherService(weatherClient, store, service.Options{
		CurrentTTL:  cfg.CurrentTTL,
		ForecastTTL: cfg.ForecastTTL,
		Location:    cfg.ForecastLocation,
		Logger:      logger,
	})

	if len(cfg.WarmCities) > 0 {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		if err := cache.NewCacheWarmer(weatherService, logger).Warm(warmCtx, cfg.WarmCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}

	healthConfig := &httphandler.HealthConfig{
		Version:          cfg.Version,
		StartTime:        time.Now(),
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	handler := httphandler.NewHandler(weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(shutdownCtx, logger, shutdownTracing); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newBreaker trips after MaxFailures consecutive transport or 5xx failures and probes again
// after Timeout.
func newBreaker(cfg *config.Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	maxFailures := cfg.CircuitBreakerMaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openweather",
		Timeout: cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// newStore builds the configured cache backend. The memcached store is also returned so main
// can wire its health ping and close it on shutdown; it is nil for the in-memory backend.
func newStore(cfg *config.Config, logger *zap.Logger) (cache.Store, *cache.MemcachedStore) {
	if cfg.CacheBackend != "memcached" {
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryStore(), nil
	}
	mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	if err := mc.Ping(); err != nil {
		logger.Warn("memcached unreachable at startup; lookups will miss", zap.Error(err))
	}
	logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	return mc, mc
}
