package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// WeatherFetcher is implemented by the service layer; fetching through it populates the cache.
// Declared here to avoid a dependency on the service package.
type WeatherFetcher interface {
	CurrentWeather(ctx context.Context, city, countryCode string) (models.CurrentWeather, error)
}

// WarmTarget names one city to prefetch.
type WarmTarget struct {
	City        string `yaml:"city"`
	CountryCode string `yaml:"country_code"`
}

func (t WarmTarget) String() string {
	if t.CountryCode == "" {
		return t.City
	}
	return t.City + "," + t.CountryCode
}

// CacheWarmer prefetches current weather for a fixed list of cities.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every target concurrently and waits for all of them. Failures are collected
// into a single multierror; callers log it and carry on.
func (w *CacheWarmer) Warm(ctx context.Context, targets []WarmTarget) error {
	if len(targets) == 0 {
		return nil
	}
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("cities", len(targets)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target WarmTarget) {
			defer wg.Done()
			if _, err := w.fetcher.CurrentWeather(ctx, target.City, target.CountryCode); err != nil {
				observability.CacheWarmTotal.WithLabelValues("error").Inc()
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("warm %s: %w", target, err))
				mu.Unlock()
				return
			}
			observability.CacheWarmTotal.WithLabelValues("success").Inc()
		}(target)
	}
	wg.Wait()

	errCount := 0
	if result != nil {
		errCount = len(result.Errors)
	}
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(targets)),
		zap.Int("errors", errCount),
		zap.Duration("duration", time.Since(start)))
	return result.ErrorOrNil()
}
