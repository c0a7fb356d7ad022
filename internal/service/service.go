package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/cache"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/failure"
	"github.com/kjstillabower/weather-gateway/internal/forecast"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/transform"
)

// Operation names; they prefix cache keys and label metrics.
const (
	OpCurrent  = "current"
	OpForecast = "forecast"
	OpSearch   = "search"
)

const (
	DefaultCurrentTTL  = 10 * time.Minute
	DefaultForecastTTL = 30 * time.Minute
)

var tracer = otel.Tracer("github.com/kjstillabower/weather-gateway/internal/service")

// Options configures a WeatherService. Zero values take the defaults.
type Options struct {
	CurrentTTL  time.Duration
	ForecastTTL time.Duration
	// Location is the zone forecast samples are bucketed into calendar dates in. Defaults to time.Local.
	Location *time.Location
	// Now is the clock used for freshness checks and timestamps.
	Now    func() time.Time
	Logger *zap.Logger
}

// WeatherService is the cache gateway: it fetches from the upstream client, normalizes the
// payload and keeps the normalized result in the store for a per-operation TTL.
type WeatherService struct {
	client      client.WeatherClient
	store       cache.Store
	currentTTL  time.Duration
	forecastTTL time.Duration
	location    *time.Location
	now         func() time.Time
	logger      *zap.Logger
	misses      *missTracker
}

// NewWeatherService creates a WeatherService over client and store.
func NewWeatherService(client client.WeatherClient, store cache.Store, opts Options) *WeatherService {
	s := &WeatherService{
		client:      client,
		store:       store,
		currentTTL:  opts.CurrentTTL,
		forecastTTL: opts.ForecastTTL,
		location:    opts.Location,
		now:         opts.Now,
		logger:      opts.Logger,
		misses:      newMissTracker(),
	}
	if s.currentTTL <= 0 {
		s.currentTTL = DefaultCurrentTTL
	}
	if s.forecastTTL <= 0 {
		s.forecastTTL = DefaultForecastTTL
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// CurrentWeather returns normalized current conditions for city, served from cache while fresh.
func (s *WeatherService) CurrentWeather(ctx context.Context, city, countryCode string) (models.CurrentWeather, error) {
	return cached(ctx, s, OpCurrent, city, countryCode, s.currentTTL, func(ctx context.Context) (models.CurrentWeather, error) {
		raw, err := s.client.FetchCurrent(ctx, city, countryCode)
		if err != nil {
			return models.CurrentWeather{}, err
		}
		return transform.ParseCurrent(raw, s.now())
	})
}

// Forecast returns up to five daily summaries for city, served from cache while fresh.
func (s *WeatherService) Forecast(ctx context.Context, city, countryCode string) ([]models.ForecastDay, error) {
	return cached(ctx, s, OpForecast, city, countryCode, s.forecastTTL, func(ctx context.Context) ([]models.ForecastDay, error) {
		raw, err := s.client.FetchForecast(ctx, city, countryCode)
		if err != nil {
			return nil, err
		}
		samples, err := transform.ParseForecast(raw, s.location)
		if err != nil {
			return nil, err
		}
		return forecast.Aggregate(samples), nil
	})
}

// SearchCities resolves query to at most limit candidate cities. Results are never cached.
func (s *WeatherService) SearchCities(ctx context.Context, query string, limit int) ([]models.CitySearchResult, error) {
	ctx, span := tracer.Start(ctx, "gateway."+OpSearch)
	defer span.End()

	results, err := s.searchCities(ctx, query, limit)
	if err != nil {
		s.recordError(ctx, OpSearch, err)
		span.SetStatus(codes.Error, failure.KindOf(err).String())
		return nil, err
	}
	return results, nil
}

func (s *WeatherService) searchCities(ctx context.Context, query string, limit int) ([]models.CitySearchResult, error) {
	raw, err := s.client.SearchCities(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results, err := transform.ParseCitySearch(raw)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CacheKey builds the store key for op and location: "{op}_{city}_{countryCode}", with
// "default" standing in for an absent country code. Both parts are trimmed and lowercased.
func CacheKey(op, city, countryCode string) string {
	cc := normalize(countryCode)
	if cc == "" {
		cc = "default"
	}
	return op + "_" + normalize(city) + "_" + cc
}

// cached serves a fresh stored value for the key, or runs fetch and stores its result.
// A failed fetch returns its error unchanged and leaves the store untouched.
func cached[T any](ctx context.Context, s *WeatherService, op, city, countryCode string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	key := CacheKey(op, city, countryCode)
	ctx, span := tracer.Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	logger := observability.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	var zero T
	if v, ok := s.lookup(ctx, logger, op, key, ttl); ok {
		var out T
		err := json.Unmarshal(v, &out)
		if err == nil {
			observability.CacheHitsTotal.WithLabelValues(op).Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			return out, nil
		}
		logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
	}

	observability.CacheMissesTotal.WithLabelValues(op).Inc()
	span.SetAttributes(attribute.Bool("cache.hit", false))
	if n := s.misses.begin(key); n > 1 {
		observability.CacheStampedeTotal.WithLabelValues(op).Inc()
		logger.Debug("concurrent cache miss", zap.String("key", key), zap.Int("concurrent", n))
	}
	defer s.misses.end(key)

	value, err := fetch(ctx)
	if err != nil {
		s.recordError(ctx, op, err)
		span.SetStatus(codes.Error, failure.KindOf(err).String())
		return zero, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		logger.Error("encode cache payload", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	entry := cache.Entry{Payload: payload, StoredAt: s.now()}
	if err := s.store.Set(ctx, key, entry, ttl); err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return value, nil
}

// lookup returns the stored payload for key when present and fresh. Store errors count as a miss.
func (s *WeatherService) lookup(ctx context.Context, logger *zap.Logger, op, key string, ttl time.Duration) ([]byte, bool) {
	entry, ok, err := s.store.Get(ctx, key)
	if err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok || !entry.Fresh(s.now(), ttl) {
		return nil, false
	}
	return entry.Payload, true
}

func (s *WeatherService) recordError(ctx context.Context, op string, err error) {
	kind := failure.KindOf(err)
	observability.GatewayErrorsTotal.WithLabelValues(op, kind.String()).Inc()
	observability.LoggerFromContext(ctx, s.logger).Debug("gateway operation failed",
		zap.String("operation", op),
		zap.String("kind", kind.String()),
		zap.Error(err))
}

// normalize trims whitespace and lowercases; upstream lookups are case-insensitive.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
