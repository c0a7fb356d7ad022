//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-gateway/internal/cache"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	WeatherURL    string
	GeoURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		WeatherURL:    os.Getenv("OPENWEATHER_BASE_URL"),
		GeoURL:        os.Getenv("OPENWEATHER_GEO_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = "https://api.openweathermap.org/data/2.5"
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = "https://api.openweathermap.org/geo/1.0/direct"
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// SetupIntegrationClient creates a live OpenWeatherMap client.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	t.Helper()
	return client.NewOpenWeatherClient(cfg.APIKey, cfg.WeatherURL, cfg.GeoURL, 5*time.Second)
}

// SetupIntegrationService creates a service backed by the live client. Memcached is used when
// requested and reachable; otherwise the in-memory store.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, cache.Store) {
	t.Helper()
	var store cache.Store = cache.NewInMemoryStore()
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("Memcached not available (%v), using in-memory store", err)
		} else {
			t.Cleanup(func() { _ = mc.Close() })
			store = mc
		}
	}

	svc := service.NewWeatherService(SetupIntegrationClient(t, cfg), store, service.Options{
		Location: time.UTC,
		Logger:   zaptest.NewLogger(t),
	})
	return svc, store
}
